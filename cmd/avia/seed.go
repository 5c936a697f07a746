package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/rules"
	"github.com/opensource-finance/avia/internal/seed"
)

var seedCSV string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo organizations, users and claims",
	Long: "Seed creates the demo organizations and their users, then imports claims\n" +
		"from the CSV dataset. Organizations that already hold claims are skipped.",
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedCSV, "csv", "", "claims CSV (defaults to the configured seed path)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(os.Stderr)
	if err != nil {
		return err
	}

	csvPath := cfg.Seed.CSVPath
	if seedCSV != "" {
		csvPath = seedCSV
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	defer repo.Close()

	ruleEngine, err := rules.NewEngine(cfg.Scoring.RuleWorkers, logger)
	if err != nil {
		return fmt.Errorf("initializing rule engine: %w", err)
	}
	defer ruleEngine.Close()

	summary, err := seed.NewSeeder(repo, ruleEngine, logger).Run(cmd.Context(), csvPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "organizations: %d\n", summary.Organizations)
	fmt.Fprintf(out, "users:         %d\n", summary.Users)
	fmt.Fprintf(out, "claims:        %d\n", summary.Claims)
	fmt.Fprintf(out, "analyzed:      %d\n", summary.Analyzed)
	fmt.Fprintf(out, "decisions:     %d\n", summary.Decisions)
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(out, "skipped:       %s\n", strings.Join(summary.Skipped, ", "))
	}
	return nil
}
