package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/model"
	"elastic-hive-sync/internal/util"
)

const (
	duplicateMarker = "already exists"
	reasonLen       = 100
	maxBody         = 1 << 20
)

type TheHive struct {
	cfg    config.TheHiveConfig
	client *http.Client
	logger *slog.Logger
}

func NewTheHive(cfg config.TheHiveConfig) *TheHive {
	to := cfg.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	return &TheHive{
		cfg:    cfg,
		client: util.NewHTTPClient(to),
		logger: slog.Default().With("component", "sink", "sink", "thehive"),
	}
}

func (h *TheHive) Name() string { return "thehive" }

func (h *TheHive) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	if ua := h.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	return req, nil
}

// TestConnection lists recent alerts; any answer other than 200 fails.
func (h *TheHive) TestConnection(ctx context.Context) error {
	to := h.cfg.ProbeTimeout
	if to <= 0 || to > 10*time.Second {
		to = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()

	u, err := url.Parse(h.cfg.URL)
	if err != nil {
		return fmt.Errorf("thehive url: %w", err)
	}
	q := u.Query()
	q.Set("range", "last5m")
	u.RawQuery = q.Encode()

	req, err := h.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("thehive probe: %w", err)
	}
	body, _ := util.ReadBody(resp, 64<<10)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thehive probe: HTTP %d: %s", resp.StatusCode, util.Truncate(string(body), reasonLen))
	}
	h.logger.Info("thehive reachable")
	return nil
}

// Submit POSTs one alert. It never returns an error; every failure is folded
// into the Outcome so the caller can continue with the next alert.
func (h *TheHive) Submit(ctx context.Context, alert model.SinkAlert) Outcome {
	payload, err := json.Marshal(alert)
	if err != nil {
		return Outcome{Kind: Failed, Reason: "marshal: " + err.Error()}
	}
	req, err := h.newRequest(ctx, http.MethodPost, h.cfg.URL, payload)
	if err != nil {
		return Outcome{Kind: Failed, Reason: err.Error()}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Outcome{Kind: TransportError, Reason: err.Error()}
	}
	body, err := util.ReadBody(resp, maxBody)
	if err != nil {
		return Outcome{Kind: TransportError, Reason: "read body: " + err.Error(), StatusCode: resp.StatusCode}
	}
	return classify(resp.StatusCode, body)
}

func classify(code int, body []byte) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Outcome{Kind: Accepted, StatusCode: code}
	case code >= 400 && code < 500:
		if strings.Contains(string(body), duplicateMarker) {
			return Outcome{Kind: Duplicate, StatusCode: code}
		}
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
			return Outcome{Kind: Failed, Reason: msg.Message, StatusCode: code}
		}
	}
	return Outcome{
		Kind:       Failed,
		Reason:     fmt.Sprintf("HTTP %d: %s", code, util.Truncate(string(body), reasonLen)),
		StatusCode: code,
	}
}
