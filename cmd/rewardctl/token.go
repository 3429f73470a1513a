package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/loyaltyrail/internal/auth/token"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		subject  string
		merchant string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the referral API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			raw, err := token.NewVerifier(config.Load(), clock.SystemClock{}).Issue(subject, merchant, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "caller name recorded in the token")
	cmd.Flags().StringVar(&merchant, "merchant", "", "restrict the token to one merchant id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
