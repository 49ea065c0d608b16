package main

import (
	"fmt"

	"github.com/nostrsigner/bunker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPairCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Create a pairing token to hand to an app (replaces any pending one)",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeStore, err := newEngine(cmd.Context(), v, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			token, err := engine.CreatePairing(cmd.Context(), v.GetStringSlice("relays"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newUnpairCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Abandon the pending pairing token",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(v.GetString("store"), v.GetString("data-dir"))
			if err != nil {
				return err
			}
			defer st.Close()

			return bunker.New(nil, st, nil).CancelPairing(cmd.Context())
		},
	}
}

func newAcceptCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <nostrconnect://...>",
		Short: "Pair with an app that offered a nostrconnect:// uri",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeStore, err := newEngine(cmd.Context(), v, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			session, err := engine.AcceptNostrConnect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			name := session.PeerPubKey
			if session.Metadata != nil && session.Metadata.Name != "" {
				name = session.Metadata.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired with %s on %v\n", name, session.Relays)
			return nil
		},
	}
}
