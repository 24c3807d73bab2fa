package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogAppendsInOrder(t *testing.T) {
	dir := t.TempDir()
	l, err := NewAuditLogger(dir, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	entries, err := l.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, l.Log(AuditEntry{AttemptID: "a1", StateTag: "0123456789ab", Status: StatusStarted}))
	require.NoError(t, l.Log(AuditEntry{AttemptID: "a1", Status: StatusSigned, SignerName: "Anna Muster"}))

	entries, err = l.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StatusStarted, entries[0].Status)
	assert.Equal(t, StatusSigned, entries[1].Status)
	assert.Equal(t, "2026-03-01T12:00:00Z", entries[0].Timestamp)

	info, err := os.Stat(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAuditLogStopsAtTruncatedLine(t *testing.T) {
	dir := t.TempDir()
	l, err := NewAuditLogger(dir, nil)
	require.NoError(t, err)
	require.NoError(t, l.Log(AuditEntry{AttemptID: "a1", Status: StatusFailed}))

	f, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"attemptId":"a2","sta`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].AttemptID)
}

func TestNilAuditLogger(t *testing.T) {
	var l *AuditLogger
	assert.NoError(t, l.Log(AuditEntry{Status: StatusStarted}))
}
