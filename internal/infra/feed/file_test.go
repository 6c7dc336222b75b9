package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiomate/studiod/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSourceSnapshot(t *testing.T) {
	path := writeFile(t, "bookings.json", `[
		{"ref":"R-1","customer_name":"Kim Minji","phone":"010-1111-2222",
		 "room":"Grand 1","date":"2025-03-10","start_time":"14:00",
		 "end_time":"15:00","price":20000,"status":"applied"}
	]`)

	snaps, err := NewFileSource(path).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "R-1", snaps[0].Ref)
	assert.Equal(t, int64(20000), snaps[0].Price)
}

func TestFileSourceMissingFileIsOutage(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.json")).Snapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}

func TestFileSourceMalformedJSONIsOutage(t *testing.T) {
	path := writeFile(t, "bookings.json", `{"not":"an array"`)
	_, err := NewFileSource(path).Snapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
}

func TestFileBankFeedFiltersBySince(t *testing.T) {
	path := writeFile(t, "bank.json", `[
		{"ref":"TX-1","booked_at":"2025-03-10T09:00:00Z","type":"DEPOSIT",
		 "amount":20000,"depositor":"Kim Minji"},
		{"ref":"TX-2","booked_at":"2025-03-08T09:00:00Z","type":"DEPOSIT",
		 "amount":5000,"depositor":"Lee Jiwoo"}
	]`)

	since := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	records, err := NewFileBankFeed(path).Fetch(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "TX-1", records[0].Ref)
}
