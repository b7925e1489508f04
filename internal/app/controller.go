package app

import (
	"context"
	"errors"
	"reflect"

	"github.com/jkaberg/hass-sensors/internal/display"
	"github.com/jkaberg/hass-sensors/internal/mqtt"
	"github.com/jkaberg/hass-sensors/internal/permission"
	"github.com/jkaberg/hass-sensors/internal/reconcile"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/store"
	"github.com/sirupsen/logrus"
)

const commandQueueSize = 16

// screen is one open sensor detail view and the last model drawn for it.
type screen struct {
	rec   *reconcile.Reconciler
	model display.Model
}

// Controller owns a reconciler per sensor. Snapshots and user commands are
// applied from a single goroutine (Run), so reconcilers never see
// concurrent calls.
type Controller struct {
	store     store.Store
	oracle    permission.Oracle
	resolver  *sensors.CapabilityResolver
	requester permission.Requester
	surface   display.Surface
	logger    *logrus.Logger

	screens  map[string]*screen
	topicIDs map[string]string // topic-safe id -> sensor id, when they differ
	commands chan func(context.Context)
	changes  chan struct{}
}

// NewController wires a controller. requester may be nil, in which case
// rejected enables are only logged.
func NewController(
	st store.Store,
	oracle permission.Oracle,
	resolver *sensors.CapabilityResolver,
	requester permission.Requester,
	surface display.Surface,
	logger *logrus.Logger,
) *Controller {
	return &Controller{
		store:     st,
		oracle:    oracle,
		resolver:  resolver,
		requester: requester,
		surface:   surface,
		logger:    logger,
		screens:   make(map[string]*screen),
		topicIDs:  make(map[string]string),
		commands:  make(chan func(context.Context), commandQueueSize),
		changes:   make(chan struct{}, 1),
	}
}

// Run applies snapshots and commands until ctx is done or snapshots is
// closed.
func (c *Controller) Run(ctx context.Context, snapshots <-chan *sensors.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			c.applySnapshot(ctx, snap)
		case cmd := <-c.commands:
			cmd(ctx)
		}
	}
}

// Changes signals after a toggle was persisted. Signals coalesce.
func (c *Controller) Changes() <-chan struct{} { return c.changes }

// SubmitEnable queues a user toggle for sensorID.
func (c *Controller) SubmitEnable(sensorID string, enabled bool) {
	c.submit(func(ctx context.Context) { c.applyEnable(ctx, sensorID, enabled) })
}

// SubmitResult queues the outcome of a permission prompt.
func (c *Controller) SubmitResult(res permission.Result) {
	c.submit(func(ctx context.Context) { c.applyResult(ctx, res) })
}

func (c *Controller) submit(cmd func(context.Context)) {
	select {
	case c.commands <- cmd:
	default:
		c.logger.Warn("Command queue full, dropping command")
	}
}

func (c *Controller) applySnapshot(ctx context.Context, snap *sensors.Snapshot) {
	if snap == nil {
		return
	}
	for _, reg := range snap.Registrations {
		sc, ok := c.screens[reg.UniqueID]
		if ok {
			if err := sc.rec.Refresh(reg); err != nil {
				c.logger.WithError(err).Warn("Failed to refresh sensor")
				continue
			}
			if m := sc.rec.Model(); !reflect.DeepEqual(m, sc.model) {
				c.render(ctx, sc, m)
			}
			continue
		}

		rec, err := reconcile.New(reg, c.resolver.Required(reg.UniqueID), c.store, c.oracle, c.logger)
		if err != nil {
			c.logger.WithError(err).Warn("Skipping invalid sensor registration")
			continue
		}
		m, err := rec.Initialize(ctx)
		if err != nil {
			// Retried on the next snapshot.
			c.logger.WithError(err).WithField("sensor", reg.UniqueID).Error("Failed to initialize sensor")
			continue
		}
		sc = &screen{rec: rec}
		c.screens[reg.UniqueID] = sc
		c.addTopicID(reg.UniqueID)
		c.render(ctx, sc, m)
	}
}

// addTopicID lets commands addressed by the topic form of id reach its screen.
func (c *Controller) addTopicID(id string) {
	seg := mqtt.CleanSegment(id)
	if seg == id {
		return
	}
	if other, taken := c.topicIDs[seg]; taken {
		c.logger.WithFields(logrus.Fields{
			"sensor":  id,
			"other":   other,
			"segment": seg,
		}).Warn("Sensor ids share a command topic; only the first can be toggled")
		return
	}
	c.topicIDs[seg] = id
}

// lookup resolves a sensor id or its topic form to an open screen.
func (c *Controller) lookup(id string) (*screen, bool) {
	if sc, ok := c.screens[id]; ok {
		return sc, true
	}
	if orig, ok := c.topicIDs[id]; ok {
		sc, ok := c.screens[orig]
		return sc, ok
	}
	return nil, false
}

func (c *Controller) applyEnable(ctx context.Context, sensorID string, enabled bool) {
	sc, ok := c.lookup(sensorID)
	if !ok {
		c.logger.WithField("sensor", sensorID).Warn("Toggle for unknown sensor")
		return
	}

	dec, err := sc.rec.RequestEnable(ctx, enabled)
	switch {
	case err != nil:
		c.logger.WithError(err).WithField("sensor", sensorID).Error("Failed to persist toggle")
	case !dec.Accepted:
		c.requestPermissions(ctx, *dec.Request)
	default:
		c.notifyChange()
	}
	// Always redraw so an optimistic toggle on the surface is reverted when
	// the request was rejected or failed.
	c.render(ctx, sc, sc.rec.Model())
}

func (c *Controller) requestPermissions(ctx context.Context, req permission.Request) {
	if c.requester == nil {
		c.logger.WithFields(logrus.Fields{
			"sensor":       req.SensorID,
			"capabilities": req.Capabilities,
		}).Warn("Permission required but no requester configured")
		return
	}
	if err := c.requester.RequestPermissions(ctx, req); err != nil {
		c.logger.WithError(err).WithField("sensor", req.SensorID).Warn("Failed to issue permission request")
	}
}

func (c *Controller) applyResult(ctx context.Context, res permission.Result) {
	// The grant state just changed underneath any cached oracle.
	if inv, ok := c.oracle.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}

	sc := c.route(res)
	if sc == nil {
		c.logger.WithFields(logrus.Fields{
			"request_id": res.RequestID,
			"sensor":     res.SensorID,
		}).Warn("Permission result for no open sensor")
		return
	}

	err := sc.rec.OnPermissionResult(ctx, res)
	switch {
	case errors.Is(err, reconcile.ErrStaleResult):
		return
	case err != nil:
		c.logger.WithError(err).WithField("sensor", res.SensorID).Error("Failed to persist permission result")
	default:
		c.notifyChange()
	}
	c.render(ctx, sc, sc.rec.Model())
}

// route finds the screen a result belongs to: by outstanding request id
// first, then by sensor id.
func (c *Controller) route(res permission.Result) *screen {
	if res.RequestID != "" {
		for _, sc := range c.screens {
			if req, ok := sc.rec.Pending(); ok && req.ID == res.RequestID {
				return sc
			}
		}
	}
	sc, _ := c.lookup(res.SensorID)
	return sc
}

func (c *Controller) render(ctx context.Context, sc *screen, m display.Model) {
	sc.model = m
	if c.surface == nil {
		return
	}
	if err := c.surface.Render(ctx, m); err != nil {
		c.logger.WithError(err).WithField("sensor", m.SensorID).Warn("Failed to render sensor detail")
	}
}

func (c *Controller) notifyChange() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
