package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearbook/clearbook/internal/api"
	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger HTTP API",
	Long: `Start the clearbook daemon: the HTTP API, the reconciliation job
pool, and (when enabled) the daily reconciliation scheduler.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	host := c.cfg.API.Host
	port := c.cfg.API.Port
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		port = v
	}

	srv := api.NewServer(c.registry, c.processor, c.projector, c.reader, c.db, c.db, c.runner)
	if c.cfg.Metrics.Enabled {
		srv.EnableMetrics()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.cfg.Recon.SchedulerEnabled {
		sources := append([]string{}, c.cfg.Recon.Sources...)
		for _, apiSrc := range c.cfg.Recon.APISources {
			sources = append(sources, apiSrc.Name)
		}
		sched := scheduler.New(scheduler.Config{
			Hour:    c.cfg.Recon.SchedulerHour,
			Sources: sources,
		}, domain.ClockFunc(time.Now), func(ctx context.Context, source string, date time.Time) error {
			_, err := c.runner.Submit(ctx, source, date)
			return err
		})
		go sched.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] listening on %s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[api] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	c.runner.Wait()
	return nil
}
