package diplus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jkaberg/hass-sensors/internal/netutil"
	"github.com/jkaberg/hass-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Client reads vehicle sensors from the local Di-Plus API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	defs       []sensors.Definition
	logger     *logrus.Logger
}

// NewClient creates a client for the Di-Plus API at host:port (a full URL
// is accepted too). It queries every Di-Plus sensor in the catalog.
func NewClient(address string, timeout time.Duration, logger *logrus.Logger) *Client {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if !strings.Contains(strings.TrimPrefix(strings.TrimPrefix(base, "http://"), "https://"), "/") {
		base += "/api/getDiPars"
	}
	return &Client{
		baseURL:    base,
		httpClient: netutil.NewHTTPClient(timeout, logger),
		defs:       sensors.BySource(sensors.SourceDiplus),
		logger:     logger,
	}
}

// Name identifies the source in logs.
func (c *Client) Name() string { return sensors.SourceDiplus }

// Poll fetches the current value of every Di-Plus sensor. Sensors absent
// from the response are skipped.
func (c *Client) Poll(ctx context.Context) ([]sensors.Registration, error) {
	body, err := c.fetch(ctx, buildTemplate(c.defs))
	if err != nil {
		return nil, err
	}
	values, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	regs := make([]sensors.Registration, 0, len(values))
	for _, def := range c.defs {
		raw, ok := values[def.FieldName]
		if !ok {
			continue
		}
		regs = append(regs, registration(def, raw))
	}

	c.logger.WithFields(logrus.Fields{
		"requested": len(c.defs),
		"received":  len(regs),
	}).Debug("Polled Di-Plus")
	return regs, nil
}

func registration(def sensors.Definition, raw float64) sensors.Registration {
	value := raw
	if def.ScaleFactor != 0 && def.ScaleFactor != 1 {
		value = raw * def.ScaleFactor
	}
	return sensors.Registration{
		UniqueID:          def.ID,
		Name:              def.Name,
		State:             value,
		UnitOfMeasurement: def.Unit,
		DeviceClass:       def.DeviceClass,
		Icon:              def.Icon,
		Attributes: map[string]any{
			"diplus_id":    def.DiplusID,
			"scale_factor": def.ScaleFactor,
		},
	}
}

// buildTemplate produces "Field:{中文名}|Field:{中文名}".
func buildTemplate(defs []sensors.Definition) string {
	parts := make([]string, 0, len(defs))
	for _, d := range defs {
		parts = append(parts, fmt.Sprintf("%s:{%s}", d.FieldName, d.ChineseName))
	}
	return strings.Join(parts, "|")
}

func (c *Client) fetch(ctx context.Context, template string) ([]byte, error) {
	fullURL := c.baseURL + "?text=" + url.QueryEscape(template)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building Di-Plus request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Di-Plus request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Di-Plus returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Di-Plus response: %w", err)
	}
	return body, nil
}

type apiResponse struct {
	Success bool   `json:"success"`
	Val     string `json:"val"`
}

// parseResponse decodes {"success":true,"val":"Key:1|Key:2"}. Pairs that
// are malformed or not numeric are dropped.
func parseResponse(body []byte) (map[string]float64, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode Di-Plus response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("Di-Plus request failed: success=false")
	}
	if resp.Val == "" {
		return nil, fmt.Errorf("Di-Plus returned no values")
	}

	values := make(map[string]float64)
	for _, pair := range strings.Split(resp.Val, "|") {
		key, raw, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		values[strings.TrimSpace(key)] = v
	}
	return values, nil
}
