package app

import (
	"context"
	"errors"
	"time"

	"github.com/jkaberg/hass-sensors/internal/bus"
	"github.com/jkaberg/hass-sensors/internal/config"
	"github.com/jkaberg/hass-sensors/internal/domain"
	"github.com/jkaberg/hass-sensors/internal/location"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/transmission"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source produces registrations for one family of sensors.
type Source interface {
	Name() string
	Poll(ctx context.Context) ([]sensors.Registration, error)
}

// Run starts the collector, the controller and the transmit scheduler and
// blocks until ctx is cancelled. tx may be nil when MQTT is not configured.
func Run(
	ctx context.Context,
	cfg *config.Config,
	sources []Source,
	ctrl *Controller,
	tx transmission.Transmitter,
	logger *logrus.Logger,
) error {
	messageBus := bus.New()
	controllerSub := messageBus.Subscribe()
	var txSub <-chan *sensors.Snapshot
	if tx != nil {
		txSub = messageBus.Subscribe()
	}

	grp, ctx := errgroup.WithContext(ctx)

	// Collector -----------------------------------------------------------
	grp.Go(func() error {
		defer messageBus.Close()

		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			if snap := collect(ctx, sources, logger); snap != nil {
				messageBus.Publish(snap)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	// Controller ----------------------------------------------------------
	grp.Go(func() error {
		return ctrl.Run(ctx, controllerSub)
	})

	// Transmit scheduler --------------------------------------------------
	if tx != nil {
		grp.Go(func() error {
			return schedule(ctx, tx, cfg.MQTTInterval, txSub, ctrl.Changes(), logger)
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// collect polls every source once. Failing sources are skipped; nil is
// returned when nothing was read.
func collect(ctx context.Context, sources []Source, logger *logrus.Logger) *sensors.Snapshot {
	snap := &sensors.Snapshot{Timestamp: time.Now()}
	for _, src := range sources {
		pollCtx, cancel := context.WithTimeout(ctx, config.DiplusTimeout)
		regs, err := src.Poll(pollCtx)
		cancel()
		switch {
		case errors.Is(err, location.ErrNoFix):
			logger.Debug("collector: no location fix yet")
		case err != nil:
			logger.WithError(err).WithField("source", src.Name()).Warn("collector: poll failed")
		default:
			snap.Registrations = append(snap.Registrations, regs...)
		}
	}
	if len(snap.Registrations) == 0 {
		return nil
	}
	return snap
}

// schedule transmits the latest snapshot at most once per interval, and
// only when it changed since the last successful transmit or a toggle was
// persisted in between.
func schedule(
	ctx context.Context,
	tx transmission.Transmitter,
	interval time.Duration,
	snapshots <-chan *sensors.Snapshot,
	changes <-chan struct{},
	logger *logrus.Logger,
) error {
	var (
		latest   *sensors.Snapshot
		lastSnap *sensors.Snapshot
		lastSent = time.Now().Add(-interval)
	)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			latest = snap
		case <-changes:
			// Enablement changed; publish promptly even if values did not.
			lastSnap = nil
			lastSent = time.Now().Add(-interval)
		case <-ticker.C:
			if latest == nil {
				continue
			}
			now := time.Now()
			if now.Sub(lastSent) < interval || !domain.Changed(lastSnap, latest) {
				continue
			}
			if err := tx.Transmit(ctx, latest); err != nil {
				logger.WithError(err).Warn("MQTT transmit failed")
				// Retry on a later tick even if no data changed, but still
				// respect the interval.
				lastSnap = nil
			} else {
				lastSnap = latest
			}
			lastSent = now
		}
	}
}
