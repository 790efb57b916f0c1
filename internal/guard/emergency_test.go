package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEmergencyTriggerIdempotent(t *testing.T) {
	dir := t.TempDir()
	var hooks int32
	stop, err := NewEmergencyStop(dir, time.Second, zerolog.Nop(), WithActivationHook(func(EmergencyStatus) {
		atomic.AddInt32(&hooks, 1)
	}))
	if err != nil {
		t.Fatalf("new emergency stop: %v", err)
	}

	if err := stop.Trigger("wallet drained"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := stop.Trigger("second reason"); err != nil {
		t.Fatalf("second trigger: %v", err)
	}

	status := stop.Status()
	if !status.Active || status.Reason != "wallet drained" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if got := atomic.LoadInt32(&hooks); got != 1 {
		t.Fatalf("activation hook called %d times, want 1", got)
	}

	marker, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if !strings.HasPrefix(string(marker), "EMERGENCY STOP TRIGGERED AT ") {
		t.Fatalf("unexpected marker content %q", marker)
	}
	reason, _ := os.ReadFile(filepath.Join(dir, ReasonFile))
	if string(reason) != "wallet drained" {
		t.Fatalf("reason file = %q", reason)
	}
}

func TestEmergencyClear(t *testing.T) {
	dir := t.TempDir()
	stop, err := NewEmergencyStop(dir, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("new emergency stop: %v", err)
	}

	if err := stop.Clear(false); err != nil {
		t.Fatalf("clearing an inactive stop should be a no-op: %v", err)
	}

	_ = stop.Trigger("manual")
	if err := stop.Clear(false); !errors.Is(err, ErrMarkerPresent) {
		t.Fatalf("expected ErrMarkerPresent, got %v", err)
	}
	if !stop.Active() {
		t.Fatal("failed clear must leave the stop active")
	}

	if err := stop.Clear(true); err != nil {
		t.Fatalf("forced clear: %v", err)
	}
	if stop.Active() {
		t.Fatal("stop should be inactive after forced clear")
	}
	if _, err := os.Stat(filepath.Join(dir, MarkerFile)); !os.IsNotExist(err) {
		t.Fatalf("marker should be removed, stat err = %v", err)
	}
	if err := stop.Clear(true); err != nil {
		t.Fatalf("forced clear is always allowed: %v", err)
	}
}

func TestEmergencyClearAfterMarkerRemoved(t *testing.T) {
	dir := t.TempDir()
	stop, _ := NewEmergencyStop(dir, time.Second, zerolog.Nop())
	_ = stop.Trigger("manual")

	if err := os.Remove(filepath.Join(dir, MarkerFile)); err != nil {
		t.Fatalf("remove marker: %v", err)
	}
	if err := stop.Clear(false); err != nil {
		t.Fatalf("clear after out of band removal: %v", err)
	}
	if stop.Active() {
		t.Fatal("stop should be inactive")
	}
	if _, err := os.Stat(filepath.Join(dir, ReasonFile)); !os.IsNotExist(err) {
		t.Fatalf("reason file should be removed, stat err = %v", err)
	}
}

func TestEmergencyRecoversFromFiles(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC)
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte("EMERGENCY STOP TRIGGERED AT "+ts.Format(time.RFC3339)), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ReasonFile), []byte("suspicious activity\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	stop, err := NewEmergencyStop(dir, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("new emergency stop: %v", err)
	}
	status := stop.Status()
	if !status.Active || status.Reason != "suspicious activity" || !status.TriggeredAt.Equal(ts) {
		t.Fatalf("unexpected recovered status: %+v", status)
	}
}

func TestEmergencyRecoverFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(dir, MarkerFile), mod, mod); err != nil {
		t.Fatal(err)
	}

	stop, _ := NewEmergencyStop(dir, time.Second, zerolog.Nop())
	status := stop.Status()
	if status.Reason != "Unknown (external file creation)" {
		t.Fatalf("reason = %q", status.Reason)
	}
	if !status.TriggeredAt.Equal(mod) {
		t.Fatalf("triggered at = %s, want %s", status.TriggeredAt, mod)
	}
}

func TestEmergencyPollerActivates(t *testing.T) {
	dir := t.TempDir()
	activated := make(chan EmergencyStatus, 1)
	stop, err := NewEmergencyStop(dir, 10*time.Millisecond, zerolog.Nop(), WithActivationHook(func(s EmergencyStatus) {
		activated <- s
	}))
	if err != nil {
		t.Fatalf("new emergency stop: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stop.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte("manual"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-activated:
		if s.Reason != "Unknown (external file creation)" {
			t.Fatalf("reason = %q", s.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not activate")
	}
	if !stop.Active() {
		t.Fatal("stop should be active")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEmergencyDirCreationFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEmergencyStop(filepath.Join(file, "emergency"), time.Second, zerolog.Nop()); err == nil {
		t.Fatal("expected error when directory cannot be created")
	}
}
