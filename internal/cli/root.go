// Package cli implements the clearbook command tree.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clearbook/clearbook/internal/daemon"
	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/sqlite"
	"github.com/clearbook/clearbook/internal/ledger"
	"github.com/clearbook/clearbook/internal/recon"
	"github.com/clearbook/clearbook/internal/source"
)

var rootCmd = &cobra.Command{
	Use:   "clearbook",
	Short: "Event-sourced double-entry ledger with daily reconciliation",
	Long: `Clearbook is an append-only double-entry ledger. Every transfer is a
paired DEBIT+CREDIT event; balances are a projection that can always be
rebuilt by replay. A reconciliation engine matches external settlement
feeds (bank CSVs, processor APIs) against internal events day by day.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ─── Shared assembly ────────────────────────────────────────────────────────

// core is the assembled application stack behind every command.
type core struct {
	cfg       daemon.Config
	db        *sqlite.DB
	registry  *ledger.Registry
	processor *ledger.Processor
	projector *ledger.Projector
	reader    *ledger.Reader
	runner    *recon.Runner
	orch      *recon.Orchestrator
}

// openCore loads config, opens the database, and wires the services.
// Caller must Close.
func openCore() (*core, error) {
	cfg, err := daemon.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openCoreWith(cfg)
}

func openCoreWith(cfg daemon.Config) (*core, error) {
	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	clock := domain.ClockFunc(time.Now)
	registry := ledger.NewRegistry(db, clock)

	procCfg := ledger.DefaultProcessorConfig()
	procCfg.OverdraftAllowed = cfg.Ledger.OverdraftAllowed
	if cfg.Ledger.MaxRetries > 0 {
		procCfg.MaxRetries = cfg.Ledger.MaxRetries
	}
	if cfg.Ledger.MaxTransactionAmount != "" {
		maxAmt, err := decimal.NewFromString(cfg.Ledger.MaxTransactionAmount)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger.max_transaction_amount: %w", err)
		}
		procCfg.MaxTransactionAmount = maxAmt
	}
	processor := ledger.NewProcessor(procCfg, db, db, db, clock)
	projector := ledger.NewProjector(db, db, clock)
	reader := ledger.NewReader(db)

	matchCfg := recon.DefaultMatchConfig()
	if cfg.Recon.AllowedAmountDiff != "" {
		diff, err := decimal.NewFromString(cfg.Recon.AllowedAmountDiff)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("recon.allowed_amount_diff: %w", err)
		}
		matchCfg.AllowedAmountDiff = diff
	}
	if cfg.Recon.MaxTimeDiffMinutes > 0 {
		matchCfg.MaxTimeDiff = time.Duration(cfg.Recon.MaxTimeDiffMinutes) * time.Minute
	}
	if cfg.Recon.MinScore > 0 {
		matchCfg.MinScore = cfg.Recon.MinScore
	}
	matchCfg.ExactTimeTolerance = time.Duration(cfg.Recon.ExactTimeToleranceSecs) * time.Second
	if cfg.Recon.HighConfidenceScore > 0 {
		matchCfg.HighConfidenceScore = cfg.Recon.HighConfidenceScore
	}

	orch := recon.NewOrchestrator(db, reader, recon.NewEngine(matchCfg), clock)
	for _, name := range cfg.Recon.Sources {
		orch.RegisterSource(source.NewCSVSource(name, cfg.CSVDir()))
	}
	for _, apiSrc := range cfg.Recon.APISources {
		orch.RegisterSource(source.NewAPISource(apiSrc.Name, apiSrc.BaseURL, apiSrc.Token))
	}

	runCfg := recon.DefaultRunnerConfig()
	if cfg.Recon.MaxConcurrentJobs > 0 {
		runCfg.MaxConcurrent = cfg.Recon.MaxConcurrentJobs
	}
	if cfg.Recon.JobTimeoutMinutes > 0 {
		runCfg.JobTimeout = time.Duration(cfg.Recon.JobTimeoutMinutes) * time.Minute
	}
	runner := recon.NewRunner(runCfg, orch)

	return &core{
		cfg:       cfg,
		db:        db,
		registry:  registry,
		processor: processor,
		projector: projector,
		reader:    reader,
		runner:    runner,
		orch:      orch,
	}, nil
}

func (c *core) Close() error {
	c.runner.Wait()
	return c.db.Close()
}
