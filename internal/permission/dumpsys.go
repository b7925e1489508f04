package permission

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dumpsysPath = "/system/bin/dumpsys"

// Dumpsys asks the Android package manager which runtime permissions the
// host package currently holds. The parsed grant table is cached for a short
// TTL so that checking a list of capabilities costs one exec, not one each.
type Dumpsys struct {
	pkg     string
	logger  *logrus.Logger
	timeout time.Duration

	mu          sync.Mutex
	cacheTTL    time.Duration
	lastChecked time.Time
	granted     map[string]bool

	// run is swapped in tests.
	run func(ctx context.Context, pkg string) ([]byte, error)
}

// NewDumpsys returns an oracle for the given Android package name.
func NewDumpsys(pkg string, logger *logrus.Logger) *Dumpsys {
	return &Dumpsys{
		pkg:      pkg,
		logger:   logger,
		timeout:  3 * time.Second,
		cacheTTL: 5 * time.Second,
		run:      runDumpsysPackage,
	}
}

func runDumpsysPackage(ctx context.Context, pkg string) ([]byte, error) {
	return exec.CommandContext(ctx, dumpsysPath, "package", pkg).Output()
}

// HasCapability implements Oracle. A failed lookup is treated as not granted.
func (d *Dumpsys) HasCapability(capability string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.granted == nil || time.Since(d.lastChecked) >= d.cacheTTL {
		d.refresh()
	}
	return d.granted[capability]
}

// Invalidate drops the cached grant table; the next query re-runs dumpsys.
// Called after a permission prompt resolves.
func (d *Dumpsys) Invalidate() {
	d.mu.Lock()
	d.granted = nil
	d.mu.Unlock()
}

func (d *Dumpsys) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	out, err := d.run(ctx, d.pkg)
	if err != nil {
		d.logger.WithError(err).WithField("package", d.pkg).Debug("dumpsys package failed")
		d.granted = map[string]bool{}
	} else {
		d.granted = parseGrantedPermissions(string(out))
	}
	d.lastChecked = time.Now()
}

// parseGrantedPermissions extracts "android.permission.X: granted=true"
// lines from dumpsys package output. Install-time and runtime sections are
// merged; a later "granted=false" for the same name wins.
func parseGrantedPermissions(out string) map[string]bool {
	granted := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, rest, ok := strings.Cut(line, ": granted=")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		value := rest
		if i := strings.IndexAny(rest, ", "); i >= 0 {
			value = rest[:i]
		}
		granted[name] = value == "true"
	}
	return granted
}
