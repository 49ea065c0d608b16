package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nostrsigner/bunker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "bunker",
		Short:         "NIP-46 remote signer",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", path, err)
				}
			}

			logger, err := newLogger(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
			if err != nil {
				return err
			}
			bunker.Logger = logger
			return nil
		},
	}

	v.SetEnvPrefix("BUNKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (toml, yaml or json)")
	flags.String("secret-key", "", "secret key to sign with, as hex, nsec or ncryptsec")
	flags.String("password", "", "password to decrypt an ncryptsec secret key")
	flags.String("store", "lmdb", "session store: memory|lmdb|badger|sqlite")
	flags.String("data-dir", defaultDataDir(), "where the session store lives")
	flags.StringSlice("relays", nil, "relays to listen on and advertise when pairing")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("log-format", "console", "log format: console|json")

	cmd.AddCommand(
		newServeCmd(v),
		newPairCmd(v),
		newUnpairCmd(v),
		newAcceptCmd(v),
		newSessionsCmd(v),
	)
	return cmd
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".bunker"
	}
	return filepath.Join(dir, "bunker")
}

func newLogger(w io.Writer, level string, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch format {
	case "json":
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format '%s'", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
