// Package storage keeps the append-only audit trail of signing attempts.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Audit statuses.
const (
	StatusStarted   = "started"
	StatusSigned    = "signed"
	StatusDenied    = "denied"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusExpired   = "expired"
)

// AuditEntry is one line of the audit log. It never contains the state,
// nonce, code or SAD; StateTag is a short hash of the state.
type AuditEntry struct {
	Timestamp       string `json:"timestamp"`
	AttemptID       string `json:"attemptId"`
	StateTag        string `json:"stateTag,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	DocumentRef     string `json:"documentRef,omitempty"`
	DocumentLabel   string `json:"documentLabel,omitempty"`
	CredentialID    string `json:"credentialId,omitempty"`
	SignerName      string `json:"signerName,omitempty"`
	SignerSerial    string `json:"signerSerial,omitempty"`
	CertFingerprint string `json:"certFingerprint,omitempty"`
	ResponseID      string `json:"responseId,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

type AuditLogger struct {
	mu       sync.Mutex
	filePath string
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuditLogger(dir string, logger *zap.Logger) (*AuditLogger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{
		filePath: filepath.Join(dir, "audit.jsonl"),
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (l *AuditLogger) Log(entry AuditEntry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = l.now().UTC().Format(time.RFC3339)
	l.logger.Debug("audit log entry",
		zap.String("attempt_id", entry.AttemptID),
		zap.String("state_tag", entry.StateTag),
		zap.String("status", entry.Status))

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// ReadAll returns the entries in the order they were written. Reading stops
// at the first malformed line, such as one cut short by a crash.
func (l *AuditLogger) ReadAll() ([]AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	entries := []AuditEntry{}
	dec := json.NewDecoder(f)
	for dec.More() {
		var entry AuditEntry
		if err := dec.Decode(&entry); err != nil {
			l.logger.Warn("truncated audit log", zap.Int("entries", len(entries)), zap.Error(err))
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
