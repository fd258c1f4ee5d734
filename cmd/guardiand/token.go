package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/auth"
)

type tokenOptions struct {
	subject    string
	governance bool
	actAs      []string
}

// newTokenCmd mints a bearer token signed with the configured secret
func newTokenCmd(opts *rootOptions) *cobra.Command {
	var to tokenOptions
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(auth.Config{
				Secret:      []byte(cfg.Auth.JWTSecret),
				Issuer:      cfg.Auth.Issuer,
				TokenExpiry: cfg.Auth.TokenExpiry,
				CacheSize:   cfg.Auth.CacheSize,
			})
			if err != nil {
				return err
			}

			subject, err := values.NewAddress(to.subject)
			if err != nil {
				return err
			}
			actAs := make([]values.Address, 0, len(to.actAs))
			for _, s := range to.actAs {
				a, err := values.NewAddress(s)
				if err != nil {
					return err
				}
				actAs = append(actAs, a)
			}
			var scopes []string
			if to.governance {
				scopes = append(scopes, auth.ScopeGovernance)
			}

			raw, err := tokens.Mint(subject, scopes, actAs...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&to.subject, "sub", "", "address the token authenticates")
	cmd.Flags().BoolVar(&to.governance, "governance", false, "grant the governance scope")
	cmd.Flags().StringSliceVar(&to.actAs, "act-as", nil, "addresses the subject may act for")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
