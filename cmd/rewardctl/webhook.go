package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/repository"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/secrets"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage merchant webhook registrations",
	}
	cmd.AddCommand(webhookRegisterCmd())
	return cmd
}

func webhookRegisterCmd() *cobra.Command {
	var (
		merchant   string
		platform   string
		identifier string
		secret     string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Seal a signing secret and register a merchant webhook",
		Long: `Register a webhook for a merchant. The signing secret is sealed with
WEBHOOK_SECRET_KEY before it is stored.

Examples:
  rewardctl webhook register --merchant 42 --platform shopify --secret shpss_123
  rewardctl webhook register --merchant 42 --platform custom --identifier shop-42 --secret s3cret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			merchantID, err := snowflake.ParseString(strings.TrimSpace(merchant))
			if err != nil || merchantID <= 0 {
				return errors.New("--merchant must be a numeric merchant id")
			}
			p, err := domain.ParsePlatform(platform)
			if err != nil {
				return err
			}
			if strings.TrimSpace(secret) == "" {
				return errors.New("--secret is required")
			}
			identifier = webhookIdentifier(identifier, p, merchantID)

			var (
				conn  *gorm.DB
				box   *secrets.Box
				genID *snowflake.Node
				clk   clock.Clock
			)
			stop, err := startApp(cmd.Context(), fx.Options(coreModules(), fx.Provide(secrets.NewBox)), &conn, &box, &genID, &clk)
			if err != nil {
				return err
			}
			defer stop()

			sealed, err := box.Seal(secret)
			if err != nil {
				return err
			}
			now := clk.Now()
			hook := &domain.WebhookConfig{
				ID:            genID.Generate(),
				MerchantID:    merchantID,
				Platform:      p,
				Identifier:    identifier,
				SigningSecret: sealed,
				IsActive:      true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := repository.Provide().InsertWebhook(cmd.Context(), conn, hook); err != nil {
				return fmt.Errorf("register webhook: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "registered webhook %s for merchant %s (%s, identifier %s)\n", hook.ID, merchantID, p, identifier)
			return nil
		},
	}

	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant id")
	cmd.Flags().StringVar(&platform, "platform", "", "shopify, woocommerce or custom")
	cmd.Flags().StringVar(&identifier, "identifier", "", "registration identifier used in the custom webhook URL, slugified, generated when empty")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret shared with the platform")

	return cmd
}

// webhookIdentifier turns raw into a URL-safe identifier, generating one when
// raw is empty.
func webhookIdentifier(raw string, p domain.Platform, merchantID snowflake.ID) string {
	if id := slug.Make(raw); id != "" {
		return id
	}
	return slug.Make(fmt.Sprintf("%s-%s-%s", p, merchantID, uuid.NewString()[:8]))
}
