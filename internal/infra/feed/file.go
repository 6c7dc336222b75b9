// Package feed implements the booking and bank feeds over JSON file
// drops. The upstream scraper and the bank exporter each write their
// latest pull to a well-known path; the daemon re-reads it every tick.
// A missing or malformed file is a feed outage, not a silent empty feed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/studiomate/studiod/internal/domain"
)

// FileSource reads booking snapshots from a JSON array file.
type FileSource struct {
	path string
}

// NewFileSource returns a source reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Snapshot implements domain.BookingSource.
func (s *FileSource) Snapshot(_ context.Context) ([]domain.BookingSnapshot, error) {
	var snaps []domain.BookingSnapshot
	if err := readJSON(s.path, &snaps); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}
	return snaps, nil
}

// FileBankFeed reads bank statement rows from a JSON array file.
type FileBankFeed struct {
	path string
}

// NewFileBankFeed returns a feed reading from path.
func NewFileBankFeed(path string) *FileBankFeed {
	return &FileBankFeed{path: path}
}

// Fetch implements domain.BankFeed, returning rows booked at or after
// since. The file may hold the full export; ingestion deduplicates
// anyway, the filter just keeps the payload small.
func (f *FileBankFeed) Fetch(_ context.Context, since time.Time) ([]domain.BankRecord, error) {
	var all []domain.BankRecord
	if err := readJSON(f.path, &all); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}
	var out []domain.BankRecord
	for _, rec := range all {
		if !rec.BookedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
