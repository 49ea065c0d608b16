package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer requests from paired apps until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			pool := transport.New(ctx, nil)
			engine, closeStore, err := newEngine(ctx, v, pool)
			if err != nil {
				return err
			}
			defer closeStore()

			if addr := v.GetString("metrics-addr"); addr != "" {
				if err := serveMetrics(ctx, engine, addr); err != nil {
					return err
				}
			}

			if v.GetBool("pair") {
				token, err := engine.CreatePairing(ctx, v.GetStringSlice("relays"))
				if err != nil {
					return fmt.Errorf("failed to create pairing: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
			}

			pk, err := engine.Identity.GetPublicKey(ctx)
			if err != nil {
				return err
			}
			relays, err := listenRelays(ctx, engine.Store, v.GetStringSlice("relays"))
			if err != nil {
				return err
			}
			if len(relays) == 0 {
				return fmt.Errorf("%w: nothing to listen on, pass --relays", bunker.ErrRelayNeeded)
			}

			bunker.Logger.Info().Str("pubkey", pk).Strs("relays", relays).Msg("listening")
			engine.Run(ctx, pool.Listen(ctx, pk, relays), v.GetInt("workers"))
			return nil
		},
	}

	cmd.Flags().Int("workers", 4, "how many peers can be served at the same time")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9146")
	cmd.Flags().Bool("pair", false, "create a new pairing token before serving")
	return cmd
}

func serveMetrics(ctx context.Context, engine *bunker.Engine, addr string) error {
	reg := prometheus.NewRegistry()
	metrics, err := bunker.NewMetrics(reg)
	if err != nil {
		return err
	}
	engine.Metrics = metrics

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bunker.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return nil
}
