package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/internal/config"
	"github.com/xkilldash9x/harpy-cli/internal/observability"
)

func newResendCmd() *cobra.Command {
	var method string

	resendCmd := &cobra.Command{
		Use:   "resend",
		Short: "Ask the target to deliver a fresh OTP code to the victim account",
		Long: `Hits the configured resend endpoint so the target pushes a new OTP over
the chosen contact method. Useful between assessment phases when the
previous code may have expired or been consumed.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			comps, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			status, err := comps.Prober.TriggerResend(ctx, comps.preferredTransport(), method)
			if err != nil {
				return err
			}

			logger.Info("Resend triggered",
				zap.Int("status", status),
				zap.String("contact_method", method))
			fmt.Fprintf(cmd.OutOrStdout(), "resend request answered with status %d\n", status)
			return nil
		},
	}

	resendCmd.Flags().StringVar(&method, "method", "email", "contact method the code is delivered over (email or sms)")

	return resendCmd
}
