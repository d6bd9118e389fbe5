package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jkaninda/ideaflow/internal/domain"
)

// FileSink appends records to a JSONL file, one object per line.
// Safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

var _ Sink = (*FileSink)(nil)

type fileRecord struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	SessionID   string         `json:"session_id"`
	AgentTypeID string         `json:"agent_type_id"`
	Tool        string         `json:"tool"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      string         `json:"status"`
	Executed    bool           `json:"executed"`
	LatencyMs   int64          `json:"latency_ms"`
	Result      string         `json:"result,omitempty"`
}

// OpenFileSink opens (or creates) path in append-only mode with 0600 permissions.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileSink{file: f}, nil
}

// Write marshals outside the lock; only the file write is serialized.
func (s *FileSink) Write(_ context.Context, rec *domain.UsageAuditRecord) error {
	data, err := json.Marshal(fileRecord{
		ID:          rec.ID.String(),
		Timestamp:   rec.CreatedAt.Format(time.RFC3339Nano),
		SessionID:   rec.SessionID.String(),
		AgentTypeID: rec.AgentTypeID.String(),
		Tool:        rec.ToolName,
		Parameters:  rec.Parameters,
		Status:      string(rec.Status),
		Executed:    rec.Executed,
		LatencyMs:   rec.LatencyMs,
		Result:      rec.Result,
	})
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, err = s.file.Write(data)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
