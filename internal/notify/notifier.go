package notify

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// termuxNotificationPath holds the absolute path to the termux-notification
// binary. An absolute path skips the PATH lookup, whose faccessat2 syscall is
// blocked by the seccomp policy on older Android versions. PREFIX overrides
// the canonical Termux prefix.
var termuxNotificationPath string

func init() {
	prefix := os.Getenv("PREFIX")
	if prefix == "" {
		prefix = "/data/data/com.termux/files/usr"
	}
	termuxNotificationPath = prefix + "/bin/termux-notification"
}

// Notification is a single Android notification.
type Notification struct {
	// ID is reused to update a notification in place.
	ID      string
	Title   string
	Content string

	// Button, when set, adds an action button running ButtonAction as a
	// shell command.
	Button       string
	ButtonAction string
}

// Notifier posts notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TermuxNotifier sends Android notifications via the termux-notification CLI.
// Execution is bounded by a small timeout so callers on the control loop are
// never stalled by a missing or hung Termux:API.
type TermuxNotifier struct {
	logger  *logrus.Logger
	timeout time.Duration
}

// NewTermuxNotifier returns a notifier using the Termux:API add-on.
func NewTermuxNotifier(logger *logrus.Logger) *TermuxNotifier {
	return &TermuxNotifier{
		logger:  logger,
		timeout: 1500 * time.Millisecond,
	}
}

// Notify posts (or updates) a notification.
func (n *TermuxNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Title == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	args := buildArgs(note)
	if err := exec.CommandContext(ctx, termuxNotificationPath, args...).Run(); err != nil {
		n.logger.WithError(err).Debug("termux-notification execution failed")
		return err
	}
	return nil
}

// buildArgs maps a Notification onto termux-notification flags, see
// https://wiki.termux.com/wiki/Termux-notification
func buildArgs(note Notification) []string {
	args := []string{"-t", note.Title, "-c", note.Content, "--priority", "high"}
	if note.ID != "" {
		args = append(args, "--id", note.ID)
	}
	if note.Button != "" {
		args = append(args, "--button1", note.Button, "--button1-action", note.ButtonAction)
	}
	return args
}
