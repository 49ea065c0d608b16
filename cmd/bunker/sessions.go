package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSessionsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List paired apps and the pending pairing, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(v.GetString("store"), v.GetString("data-dir"))
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %s", s.PeerPubKey, strings.Join(s.Relays, ","))
				if s.Metadata != nil {
					fmt.Fprintf(out, "  %q %s", s.Metadata.Name, s.Metadata.URL)
				}
				fmt.Fprintln(out)
			}

			if uc, ok, err := st.GetUnpaired(cmd.Context()); err != nil {
				return err
			} else if ok {
				fmt.Fprintf(out, "pending pairing on %s\n", strings.Join(uc.Relays, ","))
			}
			return nil
		},
	}
}
