// Package daemon wires the store, feeds, engine, notifier and API server
// together and runs the reconciliation loop on timers.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/studiomate/studiod/internal/domain"
)

// Duration is a time.Duration that unmarshals from TOML strings like "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the daemon configuration, loaded from TOML with environment
// overrides for the secret-ish values.
type Config struct {
	API     APIConfig         `toml:"api"`
	Storage StorageConfig     `toml:"storage"`
	Engine  EngineConfig      `toml:"engine"`
	Bank    BankConfig        `toml:"bank"`
	Notify  NotifyConfig      `toml:"notify"`
	Rooms   map[string]string `toml:"rooms"` // room name → IMPORTED | DOMESTIC
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// Addr returns the host:port listen address.
func (c APIConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `toml:"path"`
}

// EngineConfig tunes the reconciliation cycle.
type EngineConfig struct {
	CycleInterval      Duration `toml:"cycle_interval"`
	BookingsPath       string   `toml:"bookings_path"`
	MaxCombo           int      `toml:"max_combo"`
	MaxSplitCandidates int      `toml:"max_split_candidates"`
	DryRun             bool     `toml:"dry_run"`
}

// BankConfig tunes the bank statement sync.
type BankConfig struct {
	FeedPath     string   `toml:"feed_path"`
	SyncInterval Duration `toml:"sync_interval"`
	Lookback     Duration `toml:"lookback"`
}

// NotifyConfig is the studio identity for customer messages.
type NotifyConfig struct {
	Studio    string `toml:"studio"`
	Bank      string `toml:"bank"`
	Account   string `toml:"account"`
	SenderKey string `toml:"sender_key"`
}

// DefaultConfig returns the production defaults. Dry-run is ON by
// default: a fresh deploy observes and logs but never clicks or texts.
func DefaultConfig() Config {
	dir := defaultDataDir()
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8642,
			Metrics: true,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dir, "studiod.db"),
		},
		Engine: EngineConfig{
			CycleInterval:      Duration{time.Minute},
			BookingsPath:       filepath.Join(dir, "bookings.json"),
			MaxCombo:           5,
			MaxSplitCandidates: 12,
			DryRun:             true,
		},
		Bank: BankConfig{
			FeedPath:     filepath.Join(dir, "bank.json"),
			SyncInterval: Duration{10 * time.Minute},
			Lookback:     Duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Studio: "StudioMate",
		},
		Rooms: map[string]string{},
	}
}

// LoadConfig reads the TOML file at path over the defaults. A missing
// file is fine; the defaults stand. Environment variables override the
// file for values that live in .env rather than in git.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if dir := os.Getenv("STUDIOD_DATA_DIR"); dir != "" {
		cfg.Storage.Path = filepath.Join(dir, "studiod.db")
		cfg.Engine.BookingsPath = filepath.Join(dir, "bookings.json")
		cfg.Bank.FeedPath = filepath.Join(dir, "bank.json")
	}
	if key := os.Getenv("STUDIOD_SENDER_KEY"); key != "" {
		cfg.Notify.SenderKey = key
	}
	if account := os.Getenv("STUDIOD_BANK_ACCOUNT"); account != "" {
		cfg.Notify.Account = account
	}
	return cfg, nil
}

// Categories converts the [rooms] section to the domain mapping.
// Unknown category strings fall back to DOMESTIC, same as unlisted rooms.
func (c Config) Categories() domain.RoomCategories {
	out := make(domain.RoomCategories, len(c.Rooms))
	for room, category := range c.Rooms {
		switch domain.RoomCategory(category) {
		case domain.CategoryImported:
			out[room] = domain.CategoryImported
		default:
			out[room] = domain.CategoryDomestic
		}
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".studiod"
	}
	return filepath.Join(home, ".studiod")
}
