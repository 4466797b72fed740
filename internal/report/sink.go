// Package report persists attempt records and renders run summaries.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"apiprobe/internal/executor"
	"apiprobe/pkg/logging"

	"github.com/google/uuid"
)

// Memory is an in-memory sink for tests and dry runs.
type Memory struct {
	mu          sync.Mutex
	records     []executor.AttemptRecord
	attachments []executor.Attachment
}

// Record stores the attempt.
func (m *Memory) Record(rec executor.AttemptRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Attach stores the attachment.
func (m *Memory) Attach(att executor.Attachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments = append(m.attachments, att)
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []executor.AttemptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]executor.AttemptRecord(nil), m.records...)
}

// Attachments returns a copy of every attachment received so far.
func (m *Memory) Attachments() []executor.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]executor.Attachment(nil), m.attachments...)
}

// Directory persists every attempt as one JSON line in a per-run
// directory, so a failed run can be replayed attempt by attempt.
type Directory struct {
	runID string
	dir   string

	mu   sync.Mutex
	file *os.File
}

// NewDirectory creates a run directory under root, named by timestamp
// and run ID.
func NewDirectory(root string) (*Directory, error) {
	runID := uuid.NewString()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), runID[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report dir %s: %w", dir, err)
	}

	file, err := os.Create(filepath.Join(dir, "attempts.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt log: %w", err)
	}

	return &Directory{runID: runID, dir: dir, file: file}, nil
}

// RunID returns the unique identifier of this run.
func (d *Directory) RunID() string {
	return d.runID
}

// Dir returns the report directory path.
func (d *Directory) Dir() string {
	return d.dir
}

// Record appends the attempt to the JSONL log. Failures are logged and
// swallowed; reporting must never fail a test run.
func (d *Directory) Record(rec executor.AttemptRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		logging.Warn("Report", "Failed to encode attempt record: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.Write(append(data, '\n')); err != nil {
		logging.Warn("Report", "Failed to write attempt record: %v", err)
	}
}

// Attach writes the attachment as its own file under attachments/, so
// the full request and raw response of any attempt can be inspected
// even when the record body was truncated. Failures are logged and
// swallowed like Record failures.
func (d *Directory) Attach(att executor.Attachment) {
	dir := filepath.Join(d.dir, "attachments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Warn("Report", "Failed to create attachments dir: %v", err)
		return
	}

	name := fmt.Sprintf("%s_attempt%d_%s", sanitizeName(att.Case), att.Attempt, sanitizeName(att.Name))
	if err := os.WriteFile(filepath.Join(dir, name), att.Payload, 0o644); err != nil {
		logging.Warn("Report", "Failed to write attachment %s: %v", name, err)
	}
}

// sanitizeName keeps attachment file names to a portable character set.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

// Close flushes and closes the attempt log.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// WriteJSON writes a named JSON document into the run directory.
func (d *Directory) WriteJSON(name string, doc interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
