package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clearbook/clearbook/internal/domain"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("source", "s", "bank_csv", "Source name to write the demo feed under")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo accounts, transfers, and a matching CSV feed",
	Long: `Seed the database with a float account, two user accounts, and a few
transfers, then write yesterday's CSV feed containing the matching
external records. Useful for trying out 'clearbook recon run'.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	sourceName, _ := cmd.Flags().GetString("source")

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()

	float, err := c.registry.Create(ctx, "demo-float", "USD", domain.AccountInternal, nil)
	if err != nil {
		return err
	}
	alice, err := c.registry.Create(ctx, "demo-alice", "USD", domain.AccountUser, nil)
	if err != nil {
		return err
	}
	bob, err := c.registry.Create(ctx, "demo-bob", "USD", domain.AccountUser, nil)
	if err != nil {
		return err
	}

	amounts := []string{"500.00", "120.25", "42.00"}
	pairs := make([]*domain.TransferPair, 0, len(amounts))
	for i, a := range amounts {
		amount := decimal.RequireFromString(a)
		src, dst := float.ID, alice.ID
		if i == 2 {
			src, dst = alice.ID, bob.ID
		}
		pair, err := c.processor.RecordTransfer(ctx, src, dst, amount, "USD", nil)
		if err != nil {
			return err
		}
		pairs = append(pairs, pair)
	}

	// Feed dated today: matching loads internal events for the job date's
	// UTC day window, and the seeded transfers were committed just now.
	feedDate := time.Now().UTC()
	feedDir := c.cfg.CSVDir()
	if err := os.MkdirAll(feedDir, 0700); err != nil {
		return fmt.Errorf("create feed directory: %w", err)
	}
	feedPath := filepath.Join(feedDir, feedDate.Format("2006-01-02")+".csv")

	f, err := os.Create(feedPath)
	if err != nil {
		return fmt.Errorf("write feed: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "txn_id,amount,currency,timestamp,description")
	for i, pair := range pairs {
		fmt.Fprintf(f, "%s,%s,USD,%s,seed transfer %d\n",
			pair.TransactionID, amounts[i], pair.Debit.Timestamp.UTC().Format(time.RFC3339), i+1)
	}

	fmt.Fprintf(os.Stdout, "Seeded 3 accounts and %d transfers.\n", len(pairs))
	fmt.Fprintf(os.Stdout, "  Float: %s\n", float.ID)
	fmt.Fprintf(os.Stdout, "  Alice: %s\n", alice.ID)
	fmt.Fprintf(os.Stdout, "  Bob:   %s\n", bob.ID)
	fmt.Fprintf(os.Stdout, "  Feed:  %s\n", feedPath)
	fmt.Fprintf(os.Stdout, "Try: clearbook recon run -s %s -d %s\n", sourceName, feedDate.Format("2006-01-02"))
	return nil
}
