package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/auth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		roles       []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.TrimSpace(viper.GetString("tauth.signing_secret"))
			if secret == "" {
				return fmt.Errorf("tauth.signing_secret is required")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(secret),
				Issuer:        viper.GetString("tauth.issuer"),
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, _, err := issuer.Issue(auth.SessionRequest{
				UserID:      userID,
				DisplayName: displayName,
				Roles:       roles,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id the token is minted for")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name carried by the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
