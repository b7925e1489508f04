package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jkaberg/hass-sensors/internal/mqtt"
	"github.com/jkaberg/hass-sensors/internal/permission"
	"github.com/sirupsen/logrus"
)

// Subscriber is the slice of the MQTT client command wiring needs.
type Subscriber interface {
	Subscribe(filter string, handler mqtt.Handler) error
}

// SubscribeCommands routes toggle commands and permission results from
// MQTT into the controller.
func SubscribeCommands(sub Subscriber, topics mqtt.Topics, ctrl *Controller, logger *logrus.Logger) error {
	if err := sub.Subscribe(topics.EnableCommandFilter(), func(topic string, payload []byte) {
		id, ok := topics.SensorFromEnableCommand(topic)
		if !ok {
			logger.WithField("topic", topic).Debug("Ignoring malformed toggle topic")
			return
		}
		enabled, err := parseEnabledPayload(payload)
		if err != nil {
			logger.WithError(err).WithField("sensor", id).Warn("Ignoring toggle command")
			return
		}
		ctrl.SubmitEnable(id, enabled)
	}); err != nil {
		return err
	}

	return sub.Subscribe(topics.PermissionResult(), func(_ string, payload []byte) {
		res, err := parseResult(payload)
		if err != nil {
			logger.WithError(err).Warn("Ignoring permission result")
			return
		}
		ctrl.SubmitResult(res)
	})
}

// parseEnabledPayload accepts ON/OFF, true/false and 1/0, case-insensitive.
func parseEnabledPayload(payload []byte) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid toggle payload %q", payload)
	}
}

func parseResult(payload []byte) (permission.Result, error) {
	var res permission.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return permission.Result{}, fmt.Errorf("decoding permission result: %w", err)
	}
	if res.RequestID == "" && res.SensorID == "" {
		return permission.Result{}, fmt.Errorf("permission result names neither a request nor a sensor")
	}
	return res, nil
}
