// Package cli implements the studiod command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/studiomate/studiod/internal/daemon"
)

var (
	version = "dev"
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "studiod",
	Short: "Reservation–payment reconciliation daemon for rental studios",
	Long: `studiod watches the booking source and the bank statement feed,
matches deposits to reservations, arbitrates double-booked slots by
first payment, debits coupon wallets, and keeps every customer informed.

It ships in dry-run mode: decisions are logged, nothing is clicked or
texted, until [engine].dry_run is turned off in the config.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(),
		"Path to the TOML config file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(syncBankCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree. The .env file, if present, is loaded
// first so config env overrides work without exporting anything.
func Execute(v string) error {
	version = v
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".studiod", "config.toml")
}

func loadDaemon() (*daemon.Daemon, daemon.Config, error) {
	cfg, err := daemon.LoadConfig(cfgPath)
	if err != nil {
		return nil, cfg, err
	}
	d, err := daemon.New(cfg, version)
	if err != nil {
		return nil, cfg, err
	}
	return d, cfg, nil
}

// ─── studiod daemon ─────────────────────────────────────────────────────────

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the reconciliation loop and the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, err := loadDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx)
	},
}

// ─── studiod cycle ──────────────────────────────────────────────────────────

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one reconciliation cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, err := loadDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		if _, err := d.Engine().SyncBankFeed(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "bank sync skipped: %v\n", err)
		}
		report, err := d.Engine().RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

// ─── studiod sync-bank ──────────────────────────────────────────────────────

var syncBankCmd = &cobra.Command{
	Use:   "sync-bank",
	Short: "Pull the bank statement feed once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, err := loadDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		created, err := d.Engine().SyncBankFeed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d new statement rows\n", created)
		return nil
	},
}

// ─── studiod status ─────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon for its last cycle report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.LoadConfig(cfgPath)
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + cfg.API.Addr() + "/api/status")
		if err != nil {
			return fmt.Errorf("daemon not reachable at %s: %w", cfg.API.Addr(), err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

// ─── studiod version ────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the studiod version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("studiod %s\n", version)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
