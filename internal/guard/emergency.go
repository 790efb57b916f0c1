package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MarkerFile signals an active emergency stop.
	MarkerFile = "EMERGENCY_STOP"
	// ReasonFile holds the human readable reason.
	ReasonFile = "EMERGENCY_REASON.txt"

	markerPrefix   = "EMERGENCY STOP TRIGGERED AT "
	unknownReason  = "Unknown (external file creation)"
	defaultPolling = 5 * time.Second
)

// ErrMarkerPresent is returned by Clear when the marker file still exists.
var ErrMarkerPresent = errors.New("emergency: marker file present, remove it or clear with force")

// EmergencyStatus is a snapshot of the kill switch.
type EmergencyStatus struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	TriggeredAt time.Time `json:"triggered_at,omitempty"`
}

// EmergencyStop is the persisted kill switch.
type EmergencyStop struct {
	mu       sync.RWMutex
	status   EmergencyStatus
	dir      string
	interval time.Duration
	onActive func(EmergencyStatus)
	now      func() time.Time
	logger   zerolog.Logger
}

// EmergencyOption customises an EmergencyStop.
type EmergencyOption func(*EmergencyStop)

// WithActivationHook is invoked once each time the stop becomes active.
func WithActivationHook(fn func(EmergencyStatus)) EmergencyOption {
	return func(e *EmergencyStop) { e.onActive = fn }
}

// WithEmergencyClock swaps the time source.
func WithEmergencyClock(now func() time.Time) EmergencyOption {
	return func(e *EmergencyStop) { e.now = now }
}

// NewEmergencyStop creates dir if needed and recovers any persisted stop.
func NewEmergencyStop(dir string, interval time.Duration, logger zerolog.Logger, opts ...EmergencyOption) (*EmergencyStop, error) {
	if interval <= 0 {
		interval = defaultPolling
	}
	e := &EmergencyStop{
		dir:      dir,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "emergency_stop").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create emergency dir %s: %w", dir, err)
	}

	if e.markerExists() {
		e.status = EmergencyStatus{
			Active:      true,
			Reason:      e.readReason(),
			TriggeredAt: e.readTriggeredAt(),
		}
		e.logger.WithLevel(zerolog.FatalLevel).
			Str("reason", e.status.Reason).
			Time("triggered_at", e.status.TriggeredAt).
			Msg("emergency stop active from previous run")
	}
	return e, nil
}

// Active reports whether trading is halted.
func (e *EmergencyStop) Active() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status.Active
}

// Status returns a snapshot of the current state.
func (e *EmergencyStop) Status() EmergencyStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Trigger halts trading and persists the marker files. A second trigger keeps the first reason.
// The stop is active in memory even when persisting fails.
func (e *EmergencyStop) Trigger(reason string) error {
	e.mu.Lock()
	if e.status.Active {
		e.mu.Unlock()
		e.logger.Info().Str("reason", reason).Msg("emergency stop already active")
		return nil
	}
	e.status = EmergencyStatus{Active: true, Reason: reason, TriggeredAt: e.now().UTC()}
	status := e.status
	err := e.persist(status)
	e.mu.Unlock()

	e.logger.WithLevel(zerolog.FatalLevel).Str("reason", reason).Msg("emergency stop triggered")
	if err != nil {
		e.logger.Error().Err(err).Msg("persist emergency stop")
	}
	e.activated(status)
	return err
}

// Clear resets the stop. Without force it refuses while the marker file exists.
func (e *EmergencyStop) Clear(force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.markerExists() {
		if !force {
			return ErrMarkerPresent
		}
	} else if !e.status.Active {
		return nil
	}

	for _, name := range []string{MarkerFile, ReasonFile} {
		if err := os.Remove(filepath.Join(e.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	e.status = EmergencyStatus{}
	e.logger.Warn().Bool("force", force).Msg("emergency stop cleared")
	return nil
}

// Run polls the marker file until ctx is cancelled so an operator can stop trading by
// creating the file by hand.
func (e *EmergencyStop) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll()
		}
	}
}

func (e *EmergencyStop) poll() {
	_, err := os.Stat(filepath.Join(e.dir, MarkerFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Error().Err(err).Msg("poll emergency marker")
		}
		return
	}

	e.mu.Lock()
	if e.status.Active {
		e.mu.Unlock()
		return
	}
	e.status = EmergencyStatus{Active: true, Reason: e.readReason(), TriggeredAt: e.readTriggeredAt()}
	status := e.status
	e.mu.Unlock()

	e.logger.WithLevel(zerolog.FatalLevel).Str("reason", status.Reason).Msg("emergency stop activated by marker file")
	e.activated(status)
}

func (e *EmergencyStop) activated(status EmergencyStatus) {
	if e.onActive != nil {
		e.onActive(status)
	}
}

func (e *EmergencyStop) persist(status EmergencyStatus) error {
	marker := markerPrefix + status.TriggeredAt.Format(time.RFC3339)
	if err := os.WriteFile(filepath.Join(e.dir, MarkerFile), []byte(marker), 0o600); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, ReasonFile), []byte(status.Reason), 0o600); err != nil {
		return fmt.Errorf("write reason: %w", err)
	}
	return nil
}

func (e *EmergencyStop) markerExists() bool {
	_, err := os.Stat(filepath.Join(e.dir, MarkerFile))
	return err == nil
}

func (e *EmergencyStop) readReason() string {
	raw, err := os.ReadFile(filepath.Join(e.dir, ReasonFile))
	if err != nil {
		return unknownReason
	}
	reason := strings.TrimSpace(string(raw))
	if reason == "" {
		return unknownReason
	}
	return reason
}

func (e *EmergencyStop) readTriggeredAt() time.Time {
	path := filepath.Join(e.dir, MarkerFile)
	if raw, err := os.ReadFile(path); err == nil {
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(raw)), markerPrefix))
		if ts, err := time.Parse(time.RFC3339, text); err == nil {
			return ts.UTC()
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC()
	}
	return e.now().UTC()
}
