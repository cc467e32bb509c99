package throttle

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThrottle(t *testing.T, cfg Config, now time.Time) *Throttle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "throttle_stats.json")
	th := New(path, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	th.now = func() time.Time { return now }
	return th
}

func writeState(t *testing.T, path string, state State) {
	t.Helper()
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestStatsDailyReset(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	th := newTestThrottle(t, Config{Enabled: true}, now)

	writeState(t, th.path, State{
		Date:           now.AddDate(0, 0, -1).Format(dateLayout),
		TracksToday:    50,
		TracksThisHour: 5,
		Hour:           23,
		SessionTracks:  3,
	})

	stats := th.Stats()
	assert.Equal(t, now.Format(dateLayout), stats.Date)
	assert.Equal(t, 0, stats.TracksToday)
	assert.Equal(t, 0, stats.TracksThisHour)
	assert.Equal(t, now.Hour(), stats.Hour)
}

func TestStatsHourlyReset(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 5, 0, 0, time.UTC)
	th := newTestThrottle(t, Config{Enabled: true}, now)

	writeState(t, th.path, State{
		Date:           now.Format(dateLayout),
		TracksToday:    20,
		TracksThisHour: 10,
		Hour:           now.Hour() - 1,
		SessionTracks:  4,
	})

	stats := th.Stats()
	assert.Equal(t, 0, stats.TracksThisHour)
	assert.Equal(t, now.Hour(), stats.Hour)
	assert.Equal(t, 20, stats.TracksToday, "daily counter must survive an hourly rollover")
	assert.Equal(t, 4, stats.SessionTracks)
}

func TestRecordSuccessPersists(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 5, 0, 0, time.UTC)
	th := newTestThrottle(t, Config{Enabled: true}, now)

	th.RecordSuccess()
	th.RecordSuccess()

	// A fresh instance over the same file sees the persisted counters.
	reopened := New(th.path, Config{Enabled: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reopened.now = th.now

	stats := reopened.Stats()
	assert.Equal(t, 2, stats.TracksToday)
	assert.Equal(t, 2, stats.TracksThisHour)
	assert.Equal(t, 2, stats.SessionTracks)
	assert.InDelta(t, float64(now.Unix()), stats.LastDownload, 1)
}

func TestSessionBreak(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 5, 0, 0, time.UTC)
	cfg := Config{
		Enabled:            true,
		SessionBreakTracks: 3,
		SessionBreak:       5 * time.Minute,
	}
	th := newTestThrottle(t, cfg, now)

	for i := 0; i < 2; i++ {
		th.RecordSuccess()
		needsBreak, _ := th.CheckSessionBreak()
		assert.False(t, needsBreak, "no break expected below the threshold")
	}

	th.RecordSuccess()
	needsBreak, dur := th.CheckSessionBreak()
	require.True(t, needsBreak)
	assert.GreaterOrEqual(t, dur, time.Duration(0.8*float64(5*time.Minute)))
	assert.LessOrEqual(t, dur, time.Duration(1.2*float64(5*time.Minute)))

	assert.Equal(t, 0, th.Stats().SessionTracks)

	needsBreak, dur = th.CheckSessionBreak()
	assert.False(t, needsBreak)
	assert.Zero(t, dur)
}

func TestDelayNeverNegative(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cfg       Config
		service   string
		throttled bool
		want      time.Duration
	}{
		{
			name:      "generic delay",
			cfg:       Config{Enabled: true, DownloadDelay: 3 * time.Second, MinDelay: 30 * time.Second},
			service:   "qobuz",
			throttled: false,
			want:      3 * time.Second,
		},
		{
			name:      "throttled service",
			cfg:       Config{Enabled: true, DownloadDelay: 3 * time.Second, MinDelay: 30 * time.Second},
			service:   "apple_music",
			throttled: true,
			want:      30 * time.Second,
		},
		{
			name:      "disabled falls back to generic",
			cfg:       Config{Enabled: false, DownloadDelay: 3 * time.Second, MinDelay: 30 * time.Second},
			service:   "apple_music",
			throttled: true,
			want:      3 * time.Second,
		},
		{
			name:      "negative generic delay clamps to zero",
			cfg:       Config{Enabled: false, DownloadDelay: -5 * time.Second},
			service:   "qobuz",
			throttled: false,
			want:      0,
		},
		{
			name:      "negative min delay clamps to zero",
			cfg:       Config{Enabled: true, MinDelay: -time.Second},
			service:   "apple_music",
			throttled: true,
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestThrottle(t, tt.cfg, now)
			got := th.Delay(tt.service, tt.throttled)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
		})
	}
}

func TestCanProceedCaps(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 5, 0, 0, time.UTC)

	t.Run("unlimited by default", func(t *testing.T) {
		th := newTestThrottle(t, Config{Enabled: true}, now)
		for i := 0; i < 100; i++ {
			th.RecordSuccess()
		}
		assert.True(t, th.CanProceed())
	})

	t.Run("hourly cap enforced when set", func(t *testing.T) {
		th := newTestThrottle(t, Config{Enabled: true, MaxPerHour: 2}, now)
		assert.True(t, th.CanProceed())
		th.RecordSuccess()
		th.RecordSuccess()
		assert.False(t, th.CanProceed())
	})

	t.Run("daily cap enforced when set", func(t *testing.T) {
		th := newTestThrottle(t, Config{Enabled: true, MaxPerDay: 1}, now)
		th.RecordSuccess()
		assert.False(t, th.CanProceed())
	})

	t.Run("disabled throttle always proceeds", func(t *testing.T) {
		th := newTestThrottle(t, Config{Enabled: false, MaxPerDay: 1}, now)
		th.RecordSuccess()
		assert.True(t, th.CanProceed())
	})
}

func TestCorruptStateResets(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 5, 0, 0, time.UTC)
	th := newTestThrottle(t, Config{Enabled: true}, now)
	require.NoError(t, os.WriteFile(th.path, []byte("{not json"), 0644))

	stats := th.Stats()
	assert.Equal(t, now.Format(dateLayout), stats.Date)
	assert.Equal(t, 0, stats.TracksToday)
}
