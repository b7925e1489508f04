// Package reconcile decides and persists whether a sensor is enabled.
//
// A Reconciler backs one open detail screen. It reconciles on write, not on
// read: Initialize trusts an existing record even if a permission was
// revoked since, and only RequestEnable and OnPermissionResult change it.
// Enabling a sensor that lacks access is a two-phase protocol: RequestEnable
// rejects and hands back a permission.Request, and the platform later
// reports the outcome through OnPermissionResult. At most one request is
// outstanding per Reconciler.
//
// A Reconciler is not safe for concurrent use; callers drive it from a
// single goroutine.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jkaberg/hass-sensors/internal/display"
	"github.com/jkaberg/hass-sensors/internal/permission"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrStaleResult is returned for a permission result that does not answer
// the outstanding request.
var ErrStaleResult = errors.New("permission result does not match the outstanding request")

// Decision is the outcome of RequestEnable.
type Decision struct {
	Accepted bool
	// Request is set on rejection: the caller must prompt for exactly these
	// capabilities and revert any optimistic toggle.
	Request *permission.Request
}

// Reconciler owns the enabled state of one sensor screen.
type Reconciler struct {
	reg    sensors.Registration
	caps   []string
	store  store.Store
	oracle permission.Oracle
	logger *logrus.Logger

	enabled bool
	pending *permission.Request
}

// New returns a reconciler for reg requiring caps.
func New(reg sensors.Registration, caps []string, st store.Store, oracle permission.Oracle, logger *logrus.Logger) (*Reconciler, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		reg:    reg,
		caps:   append([]string(nil), caps...),
		store:  st,
		oracle: oracle,
		logger: logger,
	}, nil
}

// Initialize loads the record, creating it on first display with enabled set
// to whether every required capability is granted. It never both creates and
// updates.
func (r *Reconciler) Initialize(ctx context.Context) (display.Model, error) {
	rec, err := r.store.Get(ctx, r.reg.UniqueID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		granted := permission.AllGranted(r.oracle, r.caps)
		if err := r.store.Add(ctx, &store.Record{
			UniqueID: r.reg.UniqueID,
			Enabled:  granted,
			State:    r.reg.StateString(),
		}); err != nil {
			return display.Model{}, fmt.Errorf("creating record for %s: %w", r.reg.UniqueID, err)
		}
		r.enabled = granted
		r.logger.WithFields(logrus.Fields{
			"sensor":  r.reg.UniqueID,
			"enabled": granted,
		}).Info("Sensor registered")
	case err != nil:
		return display.Model{}, fmt.Errorf("loading record for %s: %w", r.reg.UniqueID, err)
	default:
		r.enabled = rec.Enabled
	}
	return r.Model(), nil
}

// RequestEnable applies a user toggle. Enabling without every required
// capability is rejected without touching the store; the returned Decision
// carries the permission request to issue. Anything else is persisted in a
// single read-modify-write.
func (r *Reconciler) RequestEnable(ctx context.Context, wantsEnabled bool) (Decision, error) {
	if wantsEnabled && !permission.AllGranted(r.oracle, r.caps) {
		if r.pending == nil {
			req := permission.NewRequest(r.reg.UniqueID, r.caps)
			r.pending = &req
		}
		req := *r.pending
		r.logger.WithFields(logrus.Fields{
			"sensor":     r.reg.UniqueID,
			"request_id": req.ID,
		}).Info("Enable rejected, permission required")
		return Decision{Accepted: false, Request: &req}, nil
	}

	if err := r.persist(ctx, wantsEnabled); err != nil {
		return Decision{}, err
	}
	r.enabled = wantsEnabled
	// An earlier prompt no longer governs this toggle.
	r.pending = nil
	r.logger.WithFields(logrus.Fields{
		"sensor":  r.reg.UniqueID,
		"enabled": wantsEnabled,
	}).Info("Sensor toggled")
	return Decision{Accepted: true}, nil
}

// OnPermissionResult completes a deferred enable: the toggle follows the
// outcome and is persisted either way, so a denial is recorded as disabled
// rather than restoring an older value. A result correlated to a different
// request returns ErrStaleResult; an uncorrelated result (empty RequestID)
// is always applied.
func (r *Reconciler) OnPermissionResult(ctx context.Context, res permission.Result) error {
	if res.RequestID != "" && (r.pending == nil || r.pending.ID != res.RequestID) {
		r.logger.WithFields(logrus.Fields{
			"sensor":     r.reg.UniqueID,
			"request_id": res.RequestID,
		}).Warn("Ignoring stale permission result")
		return ErrStaleResult
	}

	r.pending = nil
	if err := r.persist(ctx, res.GrantedAll); err != nil {
		return err
	}
	r.enabled = res.GrantedAll
	r.logger.WithFields(logrus.Fields{
		"sensor":  r.reg.UniqueID,
		"granted": res.GrantedAll,
	}).Info("Permission result applied")
	return nil
}

// Refresh swaps in a newer snapshot of the same sensor. Nothing is
// persisted; the new state is written with the next toggle.
func (r *Reconciler) Refresh(reg sensors.Registration) error {
	if reg.UniqueID != r.reg.UniqueID {
		return fmt.Errorf("refresh of %s with registration for %s", r.reg.UniqueID, reg.UniqueID)
	}
	r.reg = reg
	return nil
}

// Model projects the current snapshot with the current toggle.
func (r *Reconciler) Model() display.Model {
	m := display.Project(r.reg)
	m.Enabled = r.enabled
	return m
}

// Enabled returns the displayed toggle value.
func (r *Reconciler) Enabled() bool { return r.enabled }

// Pending returns the outstanding permission request, if any.
func (r *Reconciler) Pending() (permission.Request, bool) {
	if r.pending == nil {
		return permission.Request{}, false
	}
	return *r.pending, true
}

// Capabilities returns the capabilities this sensor requires.
func (r *Reconciler) Capabilities() []string {
	return append([]string(nil), r.caps...)
}

func (r *Reconciler) persist(ctx context.Context, enabled bool) error {
	rec, err := r.store.Get(ctx, r.reg.UniqueID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &store.Record{UniqueID: r.reg.UniqueID, Enabled: enabled, State: r.reg.StateString()}
		if err := r.store.Add(ctx, rec); err != nil {
			return fmt.Errorf("creating record for %s: %w", r.reg.UniqueID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("loading record for %s: %w", r.reg.UniqueID, err)
	}

	rec.Enabled = enabled
	rec.State = r.reg.StateString()
	if err := r.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("updating record for %s: %w", r.reg.UniqueID, err)
	}
	return nil
}
