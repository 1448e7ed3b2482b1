package cmd

import (
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/config"
	"github.com/xkilldash9x/harpy-cli/internal/featurestore"
	"github.com/xkilldash9x/harpy-cli/internal/observability"
	"github.com/xkilldash9x/harpy-cli/internal/results"
	"github.com/xkilldash9x/harpy-cli/internal/store"
)

func newReportCmd() *cobra.Command {
	var sessionID string
	var recordsPath string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild the assessment report for a completed session",
		Long: `Rebuilds a JSON report either from a session persisted to PostgreSQL
(--session-id) or from a raw records file exported with attack --export
(--records).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sessionID == "") == (recordsPath == "") {
				return fmt.Errorf("exactly one of --session-id or --records must be provided")
			}

			ctx := cmd.Context()

			if recordsPath != "" {
				f, err := os.Open(recordsPath)
				if err != nil {
					return fmt.Errorf("failed to open records file: %w", err)
				}
				defer f.Close()

				records := featurestore.New()
				if err := records.Import(f); err != nil {
					return fmt.Errorf("failed to parse records file: %w", err)
				}
				outcome := &schemas.SessionOutcome{
					State:         schemas.StateExhausted,
					GuessesIssued: records.Len(),
				}
				return writeReport(results.Build(outcome, records.Snapshot(), nil), "")
			}

			cfg := config.Get()
			logger := observability.GetLogger()
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres.url must be configured to load a session")
			}

			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			storeService, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			outcome, err := storeService.LoadSession(ctx, sessionID)
			if err != nil {
				return err
			}
			records, err := storeService.LoadRecords(ctx, sessionID)
			if err != nil {
				return err
			}
			return writeReport(results.Build(outcome, records, nil), "")
		},
	}

	reportCmd.Flags().StringVar(&sessionID, "session-id", "", "the ID of the persisted session to report on")
	reportCmd.Flags().StringVar(&recordsPath, "records", "", "a records JSON file exported by attack --export")

	return reportCmd
}
