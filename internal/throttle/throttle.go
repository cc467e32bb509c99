// Package throttle paces download throughput to mimic human usage. Usage
// counters persist across restarts in a small JSON file owned exclusively by
// this component.
package throttle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// State is the persisted usage counter document. Field names are part of the
// on-disk format.
type State struct {
	Date           string  `json:"date"`
	TracksToday    int     `json:"tracks_today"`
	TracksThisHour int     `json:"tracks_this_hour"`
	Hour           int     `json:"hour"`
	SessionTracks  int     `json:"session_tracks"`
	LastDownload   float64 `json:"last_download_time"`
}

// Config tunes the pacing policy.
type Config struct {
	// Enabled gates the per-service pacing, the rate caps and the session
	// breaks. The generic delay applies regardless.
	Enabled bool
	// Delay between items for services that do not require pacing.
	DownloadDelay time.Duration
	// MinDelay is the fixed delay for throttled services.
	MinDelay time.Duration
	// MaxPerHour and MaxPerDay cap CanProceed; zero means unlimited, which
	// reproduces the historical always-allow behavior.
	MaxPerHour int
	MaxPerDay  int
	// SessionBreakTracks is the run length after which a session break is
	// taken; SessionBreak is its base duration, randomized within ±20%.
	SessionBreakTracks int
	SessionBreak       time.Duration
}

// Throttle owns the persisted state file. All mutation happens under its
// mutex, and only after a successful download.
type Throttle struct {
	path   string
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	now    func() time.Time
	jitter func() float64 // uniform in [0, 1)
}

// New returns a throttle persisting to path.
func New(path string, cfg Config, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}

	return &Throttle{
		path:   path,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		jitter: rand.Float64,
	}
}

// Stats loads the persisted state, rolling the daily counters when the stored
// date is not today and the hourly counter when the stored hour has passed.
func (t *Throttle) Stats() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Throttle) statsLocked() State {
	now := t.now()
	state := t.load(now)

	if hour := now.Hour(); state.Hour != hour {
		state.Hour = hour
		state.TracksThisHour = 0
		t.save(state)
	}
	return state
}

// CanProceed reports whether another download is allowed right now. With both
// caps at zero (the default) it always allows, matching the original
// behavior; non-zero caps are enforced against the current counters.
func (t *Throttle) CanProceed() bool {
	if !t.cfg.Enabled {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.statsLocked()

	if t.cfg.MaxPerHour > 0 && state.TracksThisHour >= t.cfg.MaxPerHour {
		return false
	}
	if t.cfg.MaxPerDay > 0 && state.TracksToday >= t.cfg.MaxPerDay {
		return false
	}
	return true
}

// Delay returns the pause to take after an item. Throttled services get the
// fixed minimum delay; everything else gets the generic download delay. Never
// negative, regardless of misconfigured inputs.
func (t *Throttle) Delay(service string, throttled bool) time.Duration {
	if !t.cfg.Enabled || !throttled {
		return clampDelay(t.cfg.DownloadDelay)
	}
	return clampDelay(t.cfg.MinDelay)
}

// RecordSuccess bumps the daily, hourly and session counters, stamps the
// download time and persists.
func (t *Throttle) RecordSuccess() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.statsLocked()
	state.TracksToday++
	state.TracksThisHour++
	state.SessionTracks++
	state.LastDownload = float64(t.now().UnixNano()) / float64(time.Second)
	t.save(state)

	t.logger.Debug("throttle counters",
		"tracks_this_hour", state.TracksThisHour,
		"tracks_today", state.TracksToday,
		"session_tracks", state.SessionTracks)
	return state
}

// CheckSessionBreak reports whether the current run of consecutive downloads
// warrants a pause. When it does, the session counter resets and the returned
// duration is the configured break length randomized within ±20%.
func (t *Throttle) CheckSessionBreak() (bool, time.Duration) {
	if !t.cfg.Enabled || t.cfg.SessionBreakTracks <= 0 {
		return false, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.statsLocked()
	if state.SessionTracks < t.cfg.SessionBreakTracks {
		return false, 0
	}

	state.SessionTracks = 0
	t.save(state)

	base := clampDelay(t.cfg.SessionBreak)
	factor := 0.8 + 0.4*t.jitter()
	return true, time.Duration(float64(base) * factor)
}

func (t *Throttle) load(now time.Time) State {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("failed to load throttle state", "path", t.path, "err", err)
		}
		return t.reset(now)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger.Warn("corrupt throttle state, resetting", "path", t.path, "err", err)
		return t.reset(now)
	}

	if state.Date != now.Format(dateLayout) {
		return t.reset(now)
	}
	return state
}

func (t *Throttle) reset(now time.Time) State {
	return State{
		Date: now.Format(dateLayout),
		Hour: now.Hour(),
	}
}

func (t *Throttle) save(state State) {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		t.logger.Warn("failed to create throttle state dir", "path", t.path, "err", err)
		return
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		t.logger.Warn("failed to marshal throttle state", "err", err)
		return
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		t.logger.Warn("failed to save throttle state", "path", t.path, "err", err)
	}
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
