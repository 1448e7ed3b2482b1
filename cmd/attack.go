package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/harpy-cli/internal/config"
	"github.com/xkilldash9x/harpy-cli/internal/engine"
	"github.com/xkilldash9x/harpy-cli/internal/observability"
	"github.com/xkilldash9x/harpy-cli/internal/results"
	"github.com/xkilldash9x/harpy-cli/internal/transport"
)

func newAttackCmd() *cobra.Command {
	var seedPath string
	var exportPath string
	var outputPath string

	attackCmd := &cobra.Command{
		Use:   "attack",
		Short: "Run an OTP guessing session against the configured target",
		Long: `Runs one attack session in the configured mode: fingerprint collects a
baseline sample of rejection responses, brute enumerates the code space
sequentially, and ai lets an online-trained model pick the next guess.
The session honors the proxy policy on every dispatch and emits a JSON
report when it reaches a terminal state.`,
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

			if seedPath != "" {
				if err := seedRecords(comps, seedPath); err != nil {
					return err
				}
				logger.Info("Session seeded from prior records",
					zap.String("path", seedPath),
					zap.Int("records", comps.Records.Len()))
			}

			if comps.Target.LoginPath != "" {
				t := comps.preferredTransport()
				if err := transport.Login(ctx, t, comps.Target, comps.Cred, comps.Success, logger); err != nil {
					return err
				}
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(runCtx)
			if comps.Monitor != nil {
				g.Go(func() error { return comps.Monitor.Run(gctx) })
			}

			outcome, runErr := comps.Engine.Run(runCtx)
			cancel()
			_ = g.Wait()

			if runErr != nil && !errors.Is(runErr, engine.ErrForceAbort) && !errors.Is(runErr, context.Canceled) {
				return runErr
			}

			records := comps.Records.Snapshot()
			events := comps.Audit.Events()

			if exportPath != "" {
				if err := exportRecords(comps, exportPath); err != nil {
					logger.Error("Failed to export records", zap.Error(err))
				}
			}

			if comps.Store != nil {
				if err := comps.Store.PersistSession(ctx, outcome, records, events); err != nil {
					logger.Error("Failed to persist session", zap.Error(err))
				}
			}

			report := results.Build(outcome, records, events)
			if err := writeReport(report, outputPath); err != nil {
				return err
			}
			return runErr
		},
	}

	flags := attackCmd.Flags()
	flags.String("mode", "", "attack mode: fingerprint, brute or ai")
	flags.Int("digits", 0, "OTP code length in digits")
	flags.Int("max-attempts", 0, "stop after this many guesses (0 = no cap)")
	flags.StringVar(&seedPath, "seed-records", "", "import records from an earlier --export file and train the model before dispatch")
	flags.StringVar(&exportPath, "export", "", "write raw attempt records to this JSON file")
	flags.StringVarP(&outputPath, "output", "o", "", "write the report to this file instead of stdout")

	_ = viper.BindPFlag("attack.mode", flags.Lookup("mode"))
	_ = viper.BindPFlag("attack.digits", flags.Lookup("digits"))
	_ = viper.BindPFlag("attack.max_attempts", flags.Lookup("max-attempts"))

	return attackCmd
}

// seedRecords preloads the session's record log from an earlier export and
// trains the model on it, so an ai session starts warm instead of walking
// the cold-start permutation.
func seedRecords(comps *Components, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed records: %w", err)
	}
	defer f.Close()
	if err := comps.Records.Import(f); err != nil {
		return fmt.Errorf("failed to import seed records: %w", err)
	}
	if comps.Retrainer != nil {
		comps.Retrainer.TrainNow()
	}
	return nil
}

func exportRecords(comps *Components, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()
	return comps.Records.Export(f)
}

func writeReport(report *results.Report, path string) error {
	if path == "" {
		return report.WriteJSON(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	return report.WriteJSON(f)
}
