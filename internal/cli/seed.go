package cli

import (
	"codequiz/internal/config"
	"codequiz/internal/infra/memory"
	pgstore "codequiz/internal/infra/postgres"
	"codequiz/internal/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewSeedCmd upserts a YAML question bank into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML question bank into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			if file == "" {
				file = cfg.Questions.BankFile
			}
			questions, err := memory.LoadQuestionBankFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pgstore.NewQuestionLoader(pool).UpsertQuestions(ctx, questions); err != nil {
				return err
			}
			log.Info().Int("questions", len(questions)).Str("file", file).Msg("question bank seeded")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "question bank YAML (defaults to questions.bank_file)")
	return cmd
}
