package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jkaberg/hass-sensors/internal/notify"
	"github.com/sirupsen/logrus"
)

// appSettingsAction opens the Android app-info page where runtime
// permissions are granted.
const appSettingsAction = "am start -a android.settings.APPLICATION_DETAILS_SETTINGS -d package:%s"

// NotifyRequester prompts the user through an Android notification whose
// button opens the permission settings of the host package.
type NotifyRequester struct {
	notifier notify.Notifier
	pkg      string
	logger   *logrus.Logger
}

// NewNotifyRequester returns a requester posting through notifier.
func NewNotifyRequester(notifier notify.Notifier, pkg string, logger *logrus.Logger) *NotifyRequester {
	return &NotifyRequester{notifier: notifier, pkg: pkg, logger: logger}
}

// RequestPermissions implements Requester.
func (r *NotifyRequester) RequestPermissions(ctx context.Context, req Request) error {
	names := make([]string, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		names = append(names, strings.TrimPrefix(c, "android.permission."))
	}

	note := notify.Notification{
		ID:           "perm-" + req.SensorID,
		Title:        fmt.Sprintf("Permission needed for %s", req.SensorID),
		Content:      "Grant " + strings.Join(names, ", "),
		Button:       "Open settings",
		ButtonAction: fmt.Sprintf(appSettingsAction, r.pkg),
	}
	if err := r.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("posting permission notification: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"sensor":     req.SensorID,
	}).Debug("Permission notification posted")
	return nil
}

// Publisher is the slice of the MQTT client the requester needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// MQTTRequester publishes the request so a remote UI (e.g. a Home Assistant
// dashboard) can drive the prompt and report back on the result topic.
type MQTTRequester struct {
	pub   Publisher
	topic string
}

// NewMQTTRequester returns a requester publishing to topic.
func NewMQTTRequester(pub Publisher, topic string) *MQTTRequester {
	return &MQTTRequester{pub: pub, topic: topic}
}

// RequestPermissions implements Requester.
func (r *MQTTRequester) RequestPermissions(_ context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal permission request: %w", err)
	}
	if err := r.pub.Publish(r.topic, payload, false); err != nil {
		return fmt.Errorf("failed to publish permission request: %w", err)
	}
	return nil
}
