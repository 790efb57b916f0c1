package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sorare-trading-bot/internal/alerting"
	"sorare-trading-bot/internal/guard"
)

func (a *App) notifyEmergency(notifier alerting.Notifier) func(guard.EmergencyStatus) {
	return func(st guard.EmergencyStatus) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		note := alerting.Notification{
			Kind:    alerting.KindEmergency,
			Title:   "Emergency stop",
			Message: st.Reason,
			At:      st.TriggeredAt,
		}
		if err := notifier.Notify(ctx, note); err != nil {
			a.Logger.Warn().Err(err).Msg("emergency notification failed")
		}
	}
}

// EmergencyStatus prints the kill switch state.
func (a *App) EmergencyStatus() error {
	stop, err := a.openEmergency()
	if err != nil {
		return err
	}
	st := stop.Status()
	if !st.Active {
		fmt.Fprintln(a.Out, "emergency stop: inactive")
		return nil
	}
	fmt.Fprintf(a.Out, "emergency stop: ACTIVE\nreason: %s\ntriggered at: %s\n", st.Reason, st.TriggeredAt.UTC().Format(time.RFC3339))
	return nil
}

// EmergencyStop triggers the kill switch. A running daemon picks it up on its next poll
// and sends the emergency notification itself, so the command only notifies when asked to
// (no daemon running).
func (a *App) EmergencyStop(reason string, notify bool) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.New("a reason is required")
	}
	var opts []guard.EmergencyOption
	if notify {
		opts = append(opts, guard.WithActivationHook(a.notifyEmergency(a.newNotifier())))
	}
	stop, err := a.openEmergency(opts...)
	if err != nil {
		return err
	}
	if err := stop.Trigger(reason); err != nil {
		return err
	}
	st := stop.Status()
	fmt.Fprintf(a.Out, "emergency stop active: %s\n", st.Reason)
	return nil
}

// EmergencyClear removes the kill switch. Without force it refuses while the marker exists.
func (a *App) EmergencyClear(force bool) error {
	stop, err := a.openEmergency()
	if err != nil {
		return err
	}
	if err := stop.Clear(force); err != nil {
		if errors.Is(err, guard.ErrMarkerPresent) {
			return fmt.Errorf("%w (use --force)", err)
		}
		return err
	}
	fmt.Fprintln(a.Out, "emergency stop cleared; send SIGHUP to a running daemon to reload")
	return nil
}
