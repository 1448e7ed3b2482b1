package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/config"
	"github.com/xkilldash9x/harpy-cli/internal/observability"
	"github.com/xkilldash9x/harpy-cli/internal/probe"
	"github.com/xkilldash9x/harpy-cli/internal/results"
)

func newReplayCmd() *cobra.Command {
	var code string
	var count int
	var race bool

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Check whether a known-good OTP code is accepted more than once",
		Long: `Submits a code that is known to be valid several times, sequentially by
default or concurrently with --race, and reports how many submissions the
target accepted. More than one acceptance means codes are not invalidated
on first use.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				return fmt.Errorf("a code must be provided")
			}

			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			comps, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			t := comps.preferredTransport()

			var result *probe.ReuseResult
			if race {
				result, err = comps.Prober.RaceCheck(ctx, t, code, count)
			} else {
				result, err = comps.Prober.ReplayCheck(ctx, t, code, count)
			}
			if err != nil {
				return err
			}

			outcome := &schemas.SessionOutcome{
				Mode:          schemas.ModeFingerprint,
				State:         schemas.StateExhausted,
				GuessesIssued: len(result.Attempts),
			}
			report := results.Build(outcome, result.Attempts, nil)
			report.AddReuseResult(result, race)
			return writeReport(report, "")
		},
	}

	replayCmd.Flags().StringVar(&code, "code", "", "the known-good OTP code to resubmit (required)")
	replayCmd.Flags().IntVar(&count, "count", 0, "number of submissions (default 3 sequential, 10 raced)")
	replayCmd.Flags().BoolVar(&race, "race", false, "submit concurrently to probe for verification races")
	_ = replayCmd.MarkFlagRequired("code")

	return replayCmd
}
