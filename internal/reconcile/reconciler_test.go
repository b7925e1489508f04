package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jkaberg/hass-sensors/internal/display"
	"github.com/jkaberg/hass-sensors/internal/permission"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/jkaberg/hass-sensors/internal/store"
	"github.com/sirupsen/logrus"
)

// recordingStore wraps the in-memory store and counts calls.
type recordingStore struct {
	*store.Memory
	gets, adds, updates int
	failGet             error
	failUpdate          error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: store.NewMemory()}
}

func (s *recordingStore) Get(ctx context.Context, id string) (*store.Record, error) {
	s.gets++
	if s.failGet != nil {
		return nil, s.failGet
	}
	return s.Memory.Get(ctx, id)
}

func (s *recordingStore) Add(ctx context.Context, rec *store.Record) error {
	s.adds++
	return s.Memory.Add(ctx, rec)
}

func (s *recordingStore) Update(ctx context.Context, rec *store.Record) error {
	s.updates++
	if s.failUpdate != nil {
		return s.failUpdate
	}
	return s.Memory.Update(ctx, rec)
}

func (s *recordingStore) writes() int { return s.adds + s.updates }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var locationCaps = []string{permission.FineLocation, permission.BackgroundLocation}

func locationReg() sensors.Registration {
	return sensors.Registration{
		UniqueID:   "location",
		State:      "59.91,10.75",
		Icon:       "mdi:map-marker",
		Attributes: map[string]any{"provider": "gps"},
	}
}

func newReconciler(t *testing.T, reg sensors.Registration, caps []string, st store.Store, oracle permission.Oracle) *Reconciler {
	t.Helper()
	r, err := New(reg, caps, st, oracle, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func mustGet(t *testing.T, st store.Store, id string) store.Record {
	t.Helper()
	rec, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return *rec
}

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := New(sensors.Registration{}, nil, store.NewMemory(), permission.NewStatic(), quietLogger())
	if !errors.Is(err, sensors.ErrEmptyUniqueID) {
		t.Errorf("New() error = %v, want ErrEmptyUniqueID", err)
	}
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("no capabilities creates enabled record", func(t *testing.T) {
		st := newRecordingStore()
		reg := sensors.Registration{UniqueID: "cabin_temperature", State: 21.5, UnitOfMeasurement: "°C"}
		r := newReconciler(t, reg, nil, st, permission.NewStatic())

		m, err := r.Initialize(ctx)
		if err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if !m.Enabled {
			t.Error("toggle off for a sensor with no required capabilities")
		}
		if st.adds != 1 || st.updates != 0 {
			t.Errorf("adds=%d updates=%d, want 1/0", st.adds, st.updates)
		}
		rec := mustGet(t, st, "cabin_temperature")
		if !rec.Enabled || rec.State != "21.5" {
			t.Errorf("record = %+v", rec)
		}
		if got, _ := m.Row(display.LabelState); got != "21.5 °C" {
			t.Errorf("state row = %q", got)
		}
	})

	t.Run("missing capability creates disabled record", func(t *testing.T) {
		st := newRecordingStore()
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic(permission.FineLocation))

		m, err := r.Initialize(ctx)
		if err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if m.Enabled {
			t.Error("toggle on without background location")
		}
		if rec := mustGet(t, st, "location"); rec.Enabled {
			t.Errorf("record = %+v, want disabled", rec)
		}
	})

	t.Run("all capabilities granted creates enabled record", func(t *testing.T) {
		st := newRecordingStore()
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic(locationCaps...))

		m, err := r.Initialize(ctx)
		if err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if !m.Enabled {
			t.Error("toggle off with every capability granted")
		}
	})

	t.Run("existing record is trusted verbatim", func(t *testing.T) {
		st := newRecordingStore()
		if err := st.Memory.Add(ctx, &store.Record{UniqueID: "location", Enabled: true, State: "old"}); err != nil {
			t.Fatal(err)
		}
		// Permission revoked since the record was written.
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())

		m, err := r.Initialize(ctx)
		if err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if !m.Enabled {
			t.Error("stored enabled=true was re-evaluated on load")
		}
		if st.writes() != 0 {
			t.Errorf("Initialize wrote %d times for an existing record", st.writes())
		}
		if rec := mustGet(t, st, "location"); rec.State != "old" {
			t.Errorf("state overwritten on load: %q", rec.State)
		}
	})

	t.Run("round trip through the store", func(t *testing.T) {
		st := store.NewMemory()
		reg := sensors.Registration{UniqueID: "speed", State: 42.0}
		r := newReconciler(t, reg, nil, st, permission.NewStatic())
		m, err := r.Initialize(ctx)
		if err != nil {
			t.Fatal(err)
		}
		rec := mustGet(t, st, "speed")
		if rec.Enabled != m.Enabled || rec.State != reg.StateString() {
			t.Errorf("record %+v does not match model enabled=%v state=%q", rec, m.Enabled, reg.StateString())
		}
	})

	t.Run("store failure is returned", func(t *testing.T) {
		st := newRecordingStore()
		st.failGet = errors.New("disk gone")
		r := newReconciler(t, locationReg(), nil, st, permission.NewStatic())
		if _, err := r.Initialize(ctx); !errors.Is(err, st.failGet) {
			t.Errorf("Initialize() error = %v, want wrapping %v", err, st.failGet)
		}
	})
}

func TestRequestEnable(t *testing.T) {
	ctx := context.Background()

	t.Run("enable without permission is rejected and store untouched", func(t *testing.T) {
		st := newRecordingStore()
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())
		if _, err := r.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		before := st.writes()

		d, err := r.RequestEnable(ctx, true)
		if err != nil {
			t.Fatalf("RequestEnable() error = %v", err)
		}
		if d.Accepted {
			t.Error("enable accepted without permission")
		}
		if d.Request == nil {
			t.Fatal("rejection carries no permission request")
		}
		if d.Request.SensorID != "location" || len(d.Request.Capabilities) != 2 ||
			d.Request.Capabilities[0] != permission.FineLocation || d.Request.Capabilities[1] != permission.BackgroundLocation {
			t.Errorf("request = %+v", *d.Request)
		}
		if st.writes() != before {
			t.Error("rejected enable mutated the store")
		}
		if r.Enabled() {
			t.Error("toggle flipped on rejection")
		}
	})

	t.Run("at most one outstanding request", func(t *testing.T) {
		r := newReconciler(t, locationReg(), locationCaps, store.NewMemory(), permission.NewStatic())
		first, _ := r.RequestEnable(ctx, true)
		second, _ := r.RequestEnable(ctx, true)
		if first.Request.ID != second.Request.ID {
			t.Errorf("second rejection issued a new request: %s vs %s", first.Request.ID, second.Request.ID)
		}
		pending, ok := r.Pending()
		if !ok || pending.ID != first.Request.ID {
			t.Errorf("Pending() = %+v, %v", pending, ok)
		}
	})

	t.Run("accepted enable drops an earlier request", func(t *testing.T) {
		st := store.NewMemory()
		oracle := permission.NewStatic()
		r := newReconciler(t, locationReg(), locationCaps, st, oracle)
		if _, err := r.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		rejected, _ := r.RequestEnable(ctx, true)

		// Granted outside the prompt, e.g. from the system settings.
		oracle.Grant(locationCaps...)
		d, err := r.RequestEnable(ctx, true)
		if err != nil || !d.Accepted {
			t.Fatalf("RequestEnable() = %+v, %v", d, err)
		}
		if _, ok := r.Pending(); ok {
			t.Error("request still outstanding after accepted enable")
		}

		err = r.OnPermissionResult(ctx, permission.Result{RequestID: rejected.Request.ID, GrantedAll: false})
		if !errors.Is(err, ErrStaleResult) {
			t.Fatalf("late result error = %v, want ErrStaleResult", err)
		}
		if rec := mustGet(t, st, "location"); !rec.Enabled || !r.Enabled() {
			t.Error("late denial overwrote the accepted enable")
		}

		oracle.Revoke(locationCaps...)
		again, _ := r.RequestEnable(ctx, true)
		if again.Request == nil || again.Request.ID == rejected.Request.ID {
			t.Errorf("new rejection reused request %s", rejected.Request.ID)
		}
	})

	t.Run("disable always succeeds", func(t *testing.T) {
		for _, oracle := range []permission.Oracle{permission.NewStatic(), permission.NewStatic(locationCaps...)} {
			st := store.NewMemory()
			if err := st.Add(ctx, &store.Record{UniqueID: "location", Enabled: true}); err != nil {
				t.Fatal(err)
			}
			r := newReconciler(t, locationReg(), locationCaps, st, oracle)
			d, err := r.RequestEnable(ctx, false)
			if err != nil {
				t.Fatalf("RequestEnable(false) error = %v", err)
			}
			if !d.Accepted || d.Request != nil {
				t.Errorf("decision = %+v", d)
			}
			rec := mustGet(t, st, "location")
			if rec.Enabled || rec.State != "59.91,10.75" {
				t.Errorf("record = %+v", rec)
			}
		}
	})

	t.Run("enable with permission persists", func(t *testing.T) {
		st := newRecordingStore()
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic(locationCaps...))
		d, err := r.RequestEnable(ctx, true)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Accepted || !r.Enabled() {
			t.Errorf("decision = %+v enabled=%v", d, r.Enabled())
		}
		// No record yet: created instead of updated.
		if st.adds != 1 || st.updates != 0 {
			t.Errorf("adds=%d updates=%d, want 1/0", st.adds, st.updates)
		}
		if rec := mustGet(t, st, "location"); !rec.Enabled {
			t.Error("record not enabled")
		}
	})

	t.Run("toggle on existing record updates once", func(t *testing.T) {
		st := newRecordingStore()
		if err := st.Memory.Add(ctx, &store.Record{UniqueID: "speed", Registered: true, Icon: "mdi:x"}); err != nil {
			t.Fatal(err)
		}
		r := newReconciler(t, sensors.Registration{UniqueID: "speed", State: 50.0}, nil, st, permission.NewStatic())
		if _, err := r.RequestEnable(ctx, true); err != nil {
			t.Fatal(err)
		}
		if st.adds != 0 || st.updates != 1 {
			t.Errorf("adds=%d updates=%d, want 0/1", st.adds, st.updates)
		}
		rec := mustGet(t, st, "speed")
		want := store.Record{UniqueID: "speed", Enabled: true, Registered: true, Icon: "mdi:x", State: "50"}
		if rec != want {
			t.Errorf("record = %+v, want %+v", rec, want)
		}
	})
}

func TestOnPermissionResult(t *testing.T) {
	ctx := context.Background()

	t.Run("granted persists enabled", func(t *testing.T) {
		st := store.NewMemory()
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())
		if _, err := r.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		d, _ := r.RequestEnable(ctx, true)

		if err := r.OnPermissionResult(ctx, permission.Result{RequestID: d.Request.ID, GrantedAll: true}); err != nil {
			t.Fatalf("OnPermissionResult() error = %v", err)
		}
		if !r.Enabled() || !r.Model().Enabled {
			t.Error("toggle not on after grant")
		}
		if rec := mustGet(t, st, "location"); !rec.Enabled {
			t.Error("record not enabled after grant")
		}
		if _, ok := r.Pending(); ok {
			t.Error("request still outstanding after result")
		}
	})

	t.Run("denied persists disabled", func(t *testing.T) {
		st := store.NewMemory()
		if err := st.Add(ctx, &store.Record{UniqueID: "location", Enabled: true}); err != nil {
			t.Fatal(err)
		}
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())
		if err := r.OnPermissionResult(ctx, permission.Result{GrantedAll: false}); err != nil {
			t.Fatal(err)
		}
		if rec := mustGet(t, st, "location"); rec.Enabled {
			t.Error("denial did not persist enabled=false")
		}
	})

	t.Run("repeated results are idempotent", func(t *testing.T) {
		for _, granted := range []bool{true, false} {
			st := store.NewMemory()
			r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())
			if err := r.OnPermissionResult(ctx, permission.Result{GrantedAll: granted}); err != nil {
				t.Fatal(err)
			}
			first := mustGet(t, st, "location")
			if err := r.OnPermissionResult(ctx, permission.Result{GrantedAll: granted}); err != nil {
				t.Fatal(err)
			}
			second := mustGet(t, st, "location")
			if first != second || first.Enabled != granted {
				t.Errorf("granted=%v: first=%+v second=%+v", granted, first, second)
			}
		}
	})

	t.Run("stale result is ignored", func(t *testing.T) {
		st := newRecordingStore()
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())
		d, _ := r.RequestEnable(ctx, true)

		err := r.OnPermissionResult(ctx, permission.Result{RequestID: "not-" + d.Request.ID, GrantedAll: true})
		if !errors.Is(err, ErrStaleResult) {
			t.Fatalf("OnPermissionResult() error = %v, want ErrStaleResult", err)
		}
		if st.writes() != 0 || r.Enabled() {
			t.Error("stale result changed state")
		}
		if _, ok := r.Pending(); !ok {
			t.Error("stale result cleared the outstanding request")
		}
	})

	t.Run("store failure keeps the toggle", func(t *testing.T) {
		st := newRecordingStore()
		if err := st.Memory.Add(ctx, &store.Record{UniqueID: "location"}); err != nil {
			t.Fatal(err)
		}
		r := newReconciler(t, locationReg(), locationCaps, st, permission.NewStatic())
		if _, err := r.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		st.failUpdate = errors.New("disk full")

		if err := r.OnPermissionResult(ctx, permission.Result{GrantedAll: true}); err == nil {
			t.Fatal("OnPermissionResult() succeeded with a failing store")
		}
		if r.Enabled() || r.Model().Enabled {
			t.Error("toggle shows a value that was not persisted")
		}
	})

	t.Run("result without outstanding request but with id is stale", func(t *testing.T) {
		r := newReconciler(t, locationReg(), locationCaps, store.NewMemory(), permission.NewStatic())
		if err := r.OnPermissionResult(ctx, permission.Result{RequestID: "x", GrantedAll: true}); !errors.Is(err, ErrStaleResult) {
			t.Errorf("error = %v, want ErrStaleResult", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r := newReconciler(t, sensors.Registration{UniqueID: "speed", State: 10.0}, nil, st, permission.NewStatic())
	if _, err := r.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	if err := r.Refresh(sensors.Registration{UniqueID: "mileage"}); err == nil {
		t.Error("Refresh() accepted a different sensor")
	}
	if err := r.Refresh(sensors.Registration{UniqueID: "speed", State: 80.0, UnitOfMeasurement: "km/h"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Model().Row(display.LabelState); got != "80 km/h" {
		t.Errorf("state row after refresh = %q", got)
	}
	if rec := mustGet(t, st, "speed"); rec.State != "10" {
		t.Errorf("Refresh persisted state: %q", rec.State)
	}

	if _, err := r.RequestEnable(ctx, false); err != nil {
		t.Fatal(err)
	}
	if rec := mustGet(t, st, "speed"); rec.State != "80" {
		t.Errorf("toggle did not persist refreshed state: %q", rec.State)
	}
}
