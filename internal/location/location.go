package location

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// ErrNoFix is returned by Poll until the first position has been read.
var ErrNoFix = errors.New("no location fix available yet")

// Fix is one position read from the location service.
type Fix struct {
	Latitude         float64
	Longitude        float64
	Altitude         float64
	Accuracy         float64
	VerticalAccuracy float64
	Bearing          float64
	Speed            float64
	Provider         string
	Timestamp        time.Time
}

// Provider reads the device position from `dumpsys location` in the
// background and serves the latest fix without blocking.
type Provider struct {
	logger       *logrus.Logger
	interval     time.Duration
	fetchTimeout time.Duration
	run          func(ctx context.Context) ([]byte, error)

	mu  sync.RWMutex
	fix *Fix
}

// NewProvider creates a provider. Call Start to begin fetching.
func NewProvider(logger *logrus.Logger) *Provider {
	return &Provider{
		logger:       logger,
		interval:     10 * time.Second,
		fetchTimeout: 15 * time.Second,
		run: func(ctx context.Context) ([]byte, error) {
			// On Android, dumpsys is located in /system/bin
			return exec.CommandContext(ctx, "/system/bin/dumpsys", "location").Output()
		},
	}
}

// Name identifies the source in logs.
func (p *Provider) Name() string { return sensors.SourceLocation }

// Start fetches in the background until ctx is done.
func (p *Provider) Start(ctx context.Context) {
	go func() {
		p.logger.Debug("Location fetcher started")
		p.fetch(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Location fetcher stopped")
				return
			case <-ticker.C:
				p.fetch(ctx)
			}
		}
	}()
}

// Latest returns a copy of the most recent fix.
func (p *Provider) Latest() (Fix, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.fix == nil {
		return Fix{}, false
	}
	return *p.fix, true
}

// Poll returns the "location" registration built from the latest fix.
func (p *Provider) Poll(context.Context) ([]sensors.Registration, error) {
	fix, ok := p.Latest()
	if !ok {
		return nil, ErrNoFix
	}
	return []sensors.Registration{Registration(fix)}, nil
}

// Registration renders a fix as the location sensor.
func Registration(fix Fix) sensors.Registration {
	def := sensors.Lookup("location")
	return sensors.Registration{
		UniqueID: def.ID,
		Name:     def.Name,
		State:    fmt.Sprintf("%s,%s", sensors.Stringify(fix.Latitude), sensors.Stringify(fix.Longitude)),
		Icon:     def.Icon,
		Attributes: map[string]any{
			"latitude":     fix.Latitude,
			"longitude":    fix.Longitude,
			"altitude":     fix.Altitude,
			"gps_accuracy": fix.Accuracy,
			"bearing":      fix.Bearing,
			"speed":        fix.Speed,
			"provider":     fix.Provider,
		},
	}
}

func (p *Provider) fetch(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.fetchTimeout)
	defer cancel()

	out, err := p.run(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.WithField("timeout", p.fetchTimeout).Warn("Location fetch timed out")
		} else {
			p.logger.WithError(err).Debug("dumpsys location failed")
		}
		return
	}

	fix, err := parseDumpsys(string(out))
	if err != nil {
		p.logger.WithError(err).Debug("Failed to parse dumpsys location output")
		return
	}
	fix.Timestamp = time.Now()

	p.mu.Lock()
	p.fix = fix
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"latitude":  fix.Latitude,
		"longitude": fix.Longitude,
		"provider":  fix.Provider,
		"accuracy":  fix.Accuracy,
	}).Debug("Location updated")
}

// Compiled once; dumpsys is read every few seconds for the lifetime of the agent.
var (
	nativeRe  = regexp.MustCompile(`(?s)LatitudeDegrees:\s*([-0-9\.]+).*?LongitudeDegrees:\s*([-0-9\.]+).*?altitudeMeters:\s*([-0-9\.]+).*?speedMetersPerSecond:\s*([-0-9\.]+).*?bearingDegrees:\s*([-0-9\.]+).*?horizontalAccuracyMeters:\s*([-0-9\.]+).*?verticalAccuracyMeters:\s*([-0-9\.]+)`)
	gpsRe     = lastKnownRe("gps")
	networkRe = lastKnownRe("network")
)

func lastKnownRe(provider string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\s*` + provider + `:\s*Location\[[^]]*?([\-0-9\.]+),([\-0-9\.]+)[^]]*?(?:alt=([\-0-9\.]+))?[^]]*?(?:hAcc=([\-0-9\.]+))?[^]]*?(?:vAcc=([\-0-9\.]+))?[^]]*?(?:vel=([\-0-9\.]+))?[^]]*?(?:bear(?:=|ing=)([\-0-9\.]+))?[^]]*?]`)
}

// parseDumpsys prefers the GNSS native block and falls back to the last
// known gps, then network, location.
func parseDumpsys(out string) (*Fix, error) {
	if m := nativeRe.FindStringSubmatch(out); m != nil {
		f := floats(m[1:])
		return &Fix{
			Latitude:         f[0],
			Longitude:        f[1],
			Altitude:         f[2],
			Speed:            f[3],
			Bearing:          f[4],
			Accuracy:         f[5],
			VerticalAccuracy: f[6],
			Provider:         "gps",
		}, nil
	}

	for _, ptn := range []struct {
		name string
		re   *regexp.Regexp
	}{{"gps", gpsRe}, {"network", networkRe}} {
		if m := ptn.re.FindStringSubmatch(out); m != nil {
			f := floats(m[1:])
			return &Fix{
				Latitude:         f[0],
				Longitude:        f[1],
				Altitude:         f[2],
				Accuracy:         f[3],
				VerticalAccuracy: f[4],
				Speed:            f[5],
				Bearing:          f[6],
				Provider:         ptn.name,
			}, nil
		}
	}
	return nil, fmt.Errorf("no location information found in dumpsys output")
}

// floats parses each group; empty or malformed groups become 0.
func floats(groups []string) []float64 {
	out := make([]float64, len(groups))
	for i, g := range groups {
		out[i], _ = strconv.ParseFloat(g, 64)
	}
	return out
}
