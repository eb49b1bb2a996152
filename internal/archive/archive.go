// Package archive persists raw feed captures in an append-only, hive-style
// layout: <root>/bronze/<source>/date=<YYYY-MM-DD>/run_id=<RUNID>/.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/quakewatch/quakepipe/internal/quake"
)

const (
	// PayloadFile is the name of the raw feed payload inside a run directory.
	PayloadFile = "feed.geojson"
	// ManifestFile is the name of the manifest inside a run directory.
	ManifestFile = "_manifest.json"
)

// Archive writes and reads immutable raw runs. Each run directory is staged
// under a temporary name and renamed into place, so a crash mid-write never
// leaves a half-written manifest visible.
type Archive struct {
	root   string
	logger *zap.Logger
}

// New builds an Archive rooted at the given lake directory.
func New(root string, logger *zap.Logger) *Archive {
	return &Archive{root: root, logger: logger}
}

func (a *Archive) runDir(source, date, runID string) string {
	return filepath.Join(a.root, "bronze", source, "date="+date, "run_id="+runID)
}

// WriteRun persists the payload and manifest for one capture. It refuses to
// overwrite an existing run directory.
func (a *Archive) WriteRun(run quake.RawRun) (string, error) {
	dir := a.runDir(run.Source, run.DatePartition, run.RunID)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("run %s already archived at %s", run.RunID, dir)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat run dir: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("create date partition: %w", err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(dir), ".run_id="+run.RunID+"-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck // no-op after successful rename

	if err := os.WriteFile(filepath.Join(staging, PayloadFile), run.Payload, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	manifest, err := json.Marshal(run.Manifest())
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, ManifestFile), manifest, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	if err := os.Rename(staging, dir); err != nil {
		return "", fmt.Errorf("publish run dir: %w", err)
	}
	a.logger.Info("raw run archived",
		zap.String("run_id", run.RunID),
		zap.String("dir", dir),
		zap.Int("records", run.RecordCount),
	)
	return dir, nil
}

// ReadRun loads an archived run for replay. The returned RawRun carries the
// manifest's original ingestion metadata, not the read time.
func (a *Archive) ReadRun(source, date, runID string) (quake.RawRun, error) {
	dir := a.runDir(source, date, runID)

	manifestBytes, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return quake.RawRun{}, fmt.Errorf("read manifest: %w", err)
	}
	var m quake.Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return quake.RawRun{}, fmt.Errorf("decode manifest: %w", err)
	}

	payload, err := os.ReadFile(filepath.Join(dir, PayloadFile))
	if err != nil {
		return quake.RawRun{}, fmt.Errorf("read payload: %w", err)
	}

	return quake.RawRun{
		RunID:         m.RunID,
		Source:        m.Source,
		SourceURL:     m.SourceURL,
		IngestionTime: m.IngestionTimeUTC,
		DatePartition: date,
		Payload:       payload,
		RecordCount:   m.Records,
		BBox:          m.BBox,
	}, nil
}
