package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/models"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{input: 0, want: "0 B"},
		{input: 1023, want: "1023 B"},
		{input: 1024, want: "1.0 KiB"},
		{input: 1536, want: "1.5 KiB"},
		{input: 1048576, want: "1.0 MiB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(""); got != "n/a" {
		t.Fatalf("formatTimestamp(empty) = %q, want %q", got, "n/a")
	}

	const ts = "2026-02-18 10:00:00"
	if got := formatTimestamp(ts); got != ts {
		t.Fatalf("formatTimestamp(value) = %q, want %q", got, ts)
	}
}

func TestDirUsage(t *testing.T) {
	root := t.TempDir()

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	file1 := filepath.Join(root, "file1.txt")
	if err := os.WriteFile(file1, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file1: %v", err)
	}

	file2 := filepath.Join(nested, "file2.txt")
	if err := os.WriteFile(file2, []byte("go"), 0o644); err != nil {
		t.Fatalf("write file2: %v", err)
	}

	bytes, files, err := dirUsage(root)
	if err != nil {
		t.Fatalf("dirUsage returned error: %v", err)
	}

	if files != 2 {
		t.Fatalf("dirUsage files = %d, want 2", files)
	}
	if bytes != 7 {
		t.Fatalf("dirUsage bytes = %d, want 7", bytes)
	}
}

func TestPrintStatusJSON(t *testing.T) {
	status := appStatus{
		GeneratedAt:     time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
		Environment:     "development",
		Port:            "8080",
		DatabasePath:    "/tmp/chatroom.db",
		FileStoragePath: "/tmp/uploads",
		Users:           3,
		Admins:          1,
	}

	var out bytes.Buffer
	require.NoError(t, printStatusJSON(&out, status))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))

	assert.Equal(t, "development", payload["environment"])
	metrics := payload["metrics"].(map[string]any)
	assert.Equal(t, float64(3), metrics["users"])
	assert.Equal(t, float64(1), metrics["admins"])
}

func TestCollectStatusMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.DatabasePath = filepath.Join(dir, "missing.db")

	status := collectStatus(cfg)
	assert.False(t, status.DBMetricsReady)
	assert.Contains(t, status.DBWarning, "database unavailable")
}

func TestCollectStatusCountsRows(t *testing.T) {
	cfg := testConfig(t)
	st, err := openStores(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = st.auth.Register(ctx, "alice", "secret1")
	require.NoError(t, err)
	_, err = st.auth.Register(ctx, "saad", "secret1")
	require.NoError(t, err)
	require.NoError(t, st.auth.SetRole(ctx, "saad", models.RoleAdmin))
	_, err = st.log.Append(ctx, "alice", "hello", models.KindText)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	status := collectStatus(cfg)
	require.True(t, status.DBMetricsReady, status.DBWarning)
	assert.Equal(t, int64(2), status.Users)
	assert.Equal(t, int64(1), status.Admins)
	assert.Equal(t, int64(1), status.Messages)
	assert.Equal(t, int64(1), status.MessagesLast24h)
	assert.NotEmpty(t, status.LatestMessageAt)

	var out bytes.Buffer
	printStatus(&out, status)
	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Chatroom Status"))
	assert.Contains(t, text, "Admins")
	assert.Contains(t, text, "Active sessions")
}
