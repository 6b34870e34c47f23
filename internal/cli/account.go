package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clearbook/clearbook/internal/domain"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountBalanceCmd)
	accountCmd.AddCommand(accountEventsCmd)

	accountCreateCmd.Flags().StringP("name", "n", "", "Account display name (required)")
	accountCreateCmd.Flags().StringP("currency", "c", "USD", "ISO 4217 currency code")
	accountCreateCmd.Flags().StringP("type", "t", "user", "Account type: user, internal, merchant")
	accountEventsCmd.Flags().Int("limit", 20, "Maximum events to show")
	accountBalanceCmd.Flags().Bool("verify", false, "Replay events and compare against the stored balance")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage ledger accounts",
}

// ─── account create ─────────────────────────────────────────────────────────

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new account",
	Long:  `Create a ledger account. Its balance starts at zero in the account currency.`,
	RunE:  runAccountCreate,
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	currency, _ := cmd.Flags().GetString("currency")
	accountType, _ := cmd.Flags().GetString("type")
	if name == "" {
		return fmt.Errorf("account name required: clearbook account create -n <name>")
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	acct, err := c.registry.Create(context.Background(), name, currency, domain.AccountType(accountType), nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Account created.\n")
	fmt.Fprintf(os.Stdout, "  ID:       %s\n", acct.ID)
	fmt.Fprintf(os.Stdout, "  Name:     %s\n", acct.Name)
	fmt.Fprintf(os.Stdout, "  Currency: %s\n", acct.Currency)
	fmt.Fprintf(os.Stdout, "  Type:     %s\n", acct.Type)
	return nil
}

// ─── account list ───────────────────────────────────────────────────────────

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE:  runAccountList,
}

func runAccountList(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	accounts, err := c.registry.List(context.Background())
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(os.Stdout, "No accounts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCURRENCY\tTYPE\tCREATED")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Name, a.Currency, a.Type, a.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// ─── account balance ────────────────────────────────────────────────────────

var accountBalanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show an account balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountBalance,
}

func runAccountBalance(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid account id %q", args[0])
	}
	verify, _ := cmd.Flags().GetBool("verify")

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	bal, err := c.db.GetBalance(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Available: %s %s\n", bal.AvailableBalance, bal.Currency)
	fmt.Fprintf(os.Stdout, "Pending:   %s %s\n", bal.PendingBalance, bal.Currency)
	fmt.Fprintf(os.Stdout, "Version:   %d\n", bal.Version)

	if verify {
		ok, err := c.projector.Verify(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintln(os.Stdout, "Replay check: balance matches event history.")
		} else {
			replayed, _ := c.projector.Replay(ctx, id)
			fmt.Fprintf(os.Stdout, "Replay check: DRIFT (replayed %s, stored %s)\n", replayed, bal.AvailableBalance)
			fmt.Fprintln(os.Stdout, "Run 'clearbook account rebuild' via the API to repair.")
		}
	}
	return nil
}

// ─── account events ─────────────────────────────────────────────────────────

var accountEventsCmd = &cobra.Command{
	Use:   "events ACCOUNT_ID",
	Short: "Show recent ledger events for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountEvents,
}

func runAccountEvents(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid account id %q", args[0])
	}
	limit, _ := cmd.Flags().GetInt("limit")

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	events, err := c.reader.EventsByAccount(context.Background(), id, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "No events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTYPE\tAMOUNT\tCURRENCY\tSTATUS\tTRANSACTION")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("2006-01-02 15:04:05"), ev.EventType, ev.Amount, ev.Currency, ev.Status, ev.TransactionID)
	}
	return w.Flush()
}
