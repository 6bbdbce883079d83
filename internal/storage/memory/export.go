// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// ExportVersion is bumped whenever RunExport changes shape.
const ExportVersion = 1

// RunExport is the root JSON structure of an exported run file.
type RunExport struct {
	Version int                  `json:"version"`
	Run     core.Run             `json:"run"`
	Record  core.TelemetryRecord `json:"record"`
}

// exportJSON writes the run to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := RunExport{Version: ExportVersion, Run: *b.run, Record: *b.record}

	outputPath := filepath.Join(b.cfg.OutputDir, exportFileName(*b.run, b.cfg.CompressOutput))

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func exportFileName(run core.Run, compress bool) string {
	participant := sanitize(run.ParticipantID)
	if participant == "" {
		participant = "anonymous"
	}
	name := fmt.Sprintf("%s_%s_%s.json", participant, run.StartTime.UTC().Format("20060102_150405"), run.RunID)
	if compress {
		name += ".gz"
	}
	return name
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '/', '\\':
			return '_'
		}
		return r
	}, s)
}

func writeJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return gzWriter.Close()
}

// ReadExport decodes an exported run file, gzipped or not.
func ReadExport(path string) (RunExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunExport{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return RunExport{}, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var export RunExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return RunExport{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return export, nil
}

// LoadRun finds the exported file of runID in the output directory.
func (b *Backend) LoadRun(runID string) (core.Run, core.TelemetryRecord, error) {
	matches, err := filepath.Glob(filepath.Join(b.cfg.OutputDir, "*_"+runID+".json*"))
	if err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	if len(matches) == 0 {
		return core.Run{}, core.TelemetryRecord{}, fmt.Errorf("no export for run %s in %s", runID, b.cfg.OutputDir)
	}
	export, err := ReadExport(matches[0])
	if err != nil {
		return core.Run{}, core.TelemetryRecord{}, err
	}
	return export.Run, export.Record, nil
}

// GetExportedFilePath returns the path to the last exported file
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata returns metadata about the last exported run
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.run == nil {
		return core.UploadMetadata{}
	}
	meta := core.UploadMetadata{
		RunID:         b.run.RunID,
		ParticipantID: b.run.ParticipantID,
		Condition:     b.run.Condition,
	}
	if b.record != nil {
		meta.Duration = b.record.SimTime
		meta.Completed = b.record.Completed
	}
	return meta
}
