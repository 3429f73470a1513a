package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/smallbiznis/loyaltyrail/internal/webhook/signature"
	"github.com/spf13/cobra"
)

func signCmd() *cobra.Command {
	var (
		secret string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the base64 HMAC-SHA256 of a webhook payload",
		Long: `Print the signature a platform would send for a payload. Useful for
replaying deliveries against a local server.

Examples:
  rewardctl sign --secret shpss_123 --file order.json
  cat order.json | rewardctl sign --secret shpss_123 --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}
			body, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "webhook signing secret")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")

	return cmd
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}
