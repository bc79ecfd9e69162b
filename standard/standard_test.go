package standard

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentLogs_RingBuffer(t *testing.T) {
	var out bytes.Buffer
	logs := NewRecentLogs(3, slog.New(slog.NewTextHandler(&out, nil)))

	for i := 0; i < 5; i++ {
		logs.Info("tick", "n", i)
	}

	entries := logs.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, 2, entries[0].Context["n"])
	assert.Equal(t, 4, entries[2].Context["n"])
	assert.Contains(t, out.String(), "msg=tick")
}

func TestRecentLogs_MinLevelFiltersRing(t *testing.T) {
	logs := NewRecentLogs(10, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	logs.Debug("hidden")
	logs.Warn("kept", "error", errors.New("boom"))

	entries := logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, "boom", entries[0].Context["error"])

	logs.SetMinLevel(LevelDebug)
	logs.Debug("shown")
	assert.Len(t, logs.Entries(), 2)
}

func TestRecentLogs_GetDataCounts(t *testing.T) {
	logs := NewRecentLogs(10, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	logs.Error("e")
	logs.Warn("w")
	logs.Info("i", "dangling")

	data := logs.GetData().(map[string]any)
	stats := data["stats"].(map[string]any)
	assert.Equal(t, 3, stats["total_count"])
	assert.Equal(t, 1, stats["errors_count"])
	assert.Equal(t, 1, stats["warnings_count"])
	assert.Equal(t, 1, stats["info_count"])

	entries := data["entries"].([]LogEntry)
	assert.Equal(t, "dangling", entries[2].Context["!BADKEY"])
}

func TestConnectivityTracker_Status(t *testing.T) {
	tracker := NewConnectivityTracker()
	assert.Equal(t, "unknown", tracker.Status("chroma"))

	for i := 0; i < 18; i++ {
		tracker.TrackSuccess("chroma", "http://localhost:54235", "heartbeat", time.Millisecond)
	}
	assert.Equal(t, "healthy", tracker.Status("chroma"))

	tracker.TrackFailure("chroma", "http://localhost:54235", "heartbeat", time.Millisecond, "refused")
	assert.Equal(t, "degraded", tracker.Status("chroma"))

	tracker.TrackFailure("chroma", "http://localhost:54235", "init", time.Millisecond, "refused")
	tracker.TrackFailure("chroma", "http://localhost:54235", "init", time.Millisecond, "refused")
	assert.Equal(t, "unhealthy", tracker.Status("chroma"))
}

func TestConnectivityTracker_PrunesOutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewConnectivityTracker()
	tracker.now = func() time.Time { return now }

	tracker.TrackFailure("chroma", "u", "init", 0, "down")
	now = now.Add(2 * time.Hour)
	tracker.TrackSuccess("chroma", "u", "init", 0)

	data := tracker.GetData().(map[string]any)
	outbound := data["outbound_connections"].([]map[string]any)
	require.Len(t, outbound, 1)
	assert.Equal(t, 1, outbound[0]["total_calls"])
	assert.Equal(t, "healthy", outbound[0]["status"])
}
