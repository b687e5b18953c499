// Package results stores the results of successful sync passes on the local filesystem.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-logr/logr"

	pkgsync "github.com/stacklok/bimsync/internal/sync"
)

const (
	// ResultFileName is the name of the file holding an item's latest result
	ResultFileName = "result.json"

	// dataRelPath is the results location under the XDG data home
	dataRelPath = "bimsync/results"
)

// Record is the stored form of a result
type Record struct {
	pkgsync.Result
	// RuntimeDigest names the parser runtime the geometry was handed to, if any
	RuntimeDigest string    `json:"runtimeDigest,omitempty"`
	StoredAt      time.Time `json:"storedAt"`
}

// DefaultDir returns the results directory under $XDG_DATA_HOME
func DefaultDir() string {
	return filepath.Join(xdg.DataHome, dataRelPath)
}

// FileSink keeps the latest result of every item as JSON, one directory per item.
// It implements sync.ResultSink.
type FileSink struct {
	basePath string
	now      func() time.Time
}

// NewFileSink creates a file-based sink under basePath
func NewFileSink(basePath string) *FileSink {
	return &FileSink{
		basePath: basePath,
		now:      time.Now,
	}
}

// itemDir maps an item id, which may contain slashes, to a single directory name
func (f *FileSink) itemDir(itemID string) string {
	return filepath.Join(f.basePath, url.PathEscape(itemID))
}

// Store replaces the stored result of result.ItemID
func (f *FileSink) Store(ctx context.Context, result pkgsync.Result) error {
	if result.ItemID == "" {
		return fmt.Errorf("result has no item id")
	}

	dir := f.itemDir(result.ItemID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create result directory for item '%s': %w", result.ItemID, err)
	}

	record := Record{Result: result, StoredAt: f.now().UTC()}
	if result.Runtime != nil {
		record.RuntimeDigest = result.Runtime.Digest.String()
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result for item '%s': %w", result.ItemID, err)
	}

	// Write to temporary file first for atomic operation
	filePath := filepath.Join(dir, ResultFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary result file for item '%s': %w", result.ItemID, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename result file for item '%s': %w", result.ItemID, err)
	}

	logr.FromContextOrDiscard(ctx).Info("Result stored", "urn", result.URN, "itemId", result.ItemID,
		"path", filePath)
	return nil
}

// Load returns the stored result of itemID, or nil when there is none
func (f *FileSink) Load(_ context.Context, itemID string) (*Record, error) {
	filePath := filepath.Join(f.itemDir(itemID), ResultFileName)

	// #nosec G304 -- filePath is basePath plus an escaped item id
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read result file for item '%s': %w", itemID, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result for item '%s': %w", itemID, err)
	}
	return &record, nil
}

// LoadAll returns every stored result by item id. Unreadable entries are skipped.
func (f *FileSink) LoadAll(ctx context.Context) (map[string]*Record, error) {
	records := make(map[string]*Record)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	logger := logr.FromContextOrDiscard(ctx)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		itemID, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		record, err := f.Load(ctx, itemID)
		if err != nil {
			logger.V(1).Info("Skipping unreadable result", "itemId", itemID, "error", err.Error())
			continue
		}
		if record != nil {
			records[itemID] = record
		}
	}

	return records, nil
}
