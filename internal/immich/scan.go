package immich

import (
	"context"
	"fmt"

	"mirrorsync/internal/mirror"
)

// ScanManager triggers library scans selectively. The server's global
// auto-scan stays disabled so mirrored files never get re-imported into the
// target library; every other library still gets scanned each cycle.
type ScanManager struct {
	client *Client
	logger mirror.Logger
}

// NewScanManager creates a manager over the given client.
func NewScanManager(client *Client, logger mirror.Logger) *ScanManager {
	return &ScanManager{client: client, logger: logger}
}

// ScanAllExcept triggers a scan on every library not in the exclude set.
// Individual scan failures are logged and skipped. Returns the number of
// scans triggered.
func (m *ScanManager) ScanAllExcept(ctx context.Context, exclude map[string]struct{}) (int, error) {
	libraries, err := m.client.Libraries(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching libraries: %w", err)
	}

	count := 0
	for _, lib := range libraries {
		if _, skip := exclude[lib.ID]; skip {
			m.logger.Debug("skipping target library", "library", lib.ID)
			continue
		}
		if err := m.client.ScanLibrary(ctx, lib.ID); err != nil {
			m.logger.Warn("failed to trigger library scan", "library", lib.ID, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		m.logger.Info("triggered library scans", "count", count)
	}
	return count, nil
}
