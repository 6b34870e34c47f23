package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(transferCmd)
	transferCmd.Flags().StringP("from", "f", "", "Source account id (required)")
	transferCmd.Flags().StringP("to", "t", "", "Destination account id (required)")
	transferCmd.Flags().StringP("amount", "a", "", "Amount, e.g. 125.50 (required)")
	transferCmd.Flags().StringP("currency", "c", "USD", "ISO 4217 currency code")
	transferCmd.Flags().String("memo", "", "Optional memo stored in event metadata")
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Move funds between two accounts",
	Long: `Record a transfer as a paired DEBIT+CREDIT event. The pair and both
balance updates commit atomically; a rejected transfer writes nothing.`,
	RunE: runTransfer,
}

func runTransfer(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	amountStr, _ := cmd.Flags().GetString("amount")
	currency, _ := cmd.Flags().GetString("currency")
	memo, _ := cmd.Flags().GetString("memo")

	if from == "" || to == "" || amountStr == "" {
		return fmt.Errorf("required: clearbook transfer -f <from> -t <to> -a <amount>")
	}
	sourceID, err := uuid.Parse(from)
	if err != nil {
		return fmt.Errorf("invalid source account id %q", from)
	}
	destID, err := uuid.Parse(to)
	if err != nil {
		return fmt.Errorf("invalid destination account id %q", to)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount %q", amountStr)
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	var metadata map[string]any
	if memo != "" {
		metadata = map[string]any{"memo": memo}
	}

	pair, err := c.processor.RecordTransfer(context.Background(), sourceID, destID, amount, currency, metadata)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Transfer committed.\n")
	fmt.Fprintf(os.Stdout, "  Transaction: %s\n", pair.TransactionID)
	fmt.Fprintf(os.Stdout, "  Amount:      %s %s\n", amount, currency)
	fmt.Fprintf(os.Stdout, "  Debit:       %s (account %s)\n", pair.Debit.ID, sourceID)
	fmt.Fprintf(os.Stdout, "  Credit:      %s (account %s)\n", pair.Credit.ID, destID)
	return nil
}
