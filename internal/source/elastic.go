package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/model"
	"elastic-hive-sync/internal/util"
)

const maxBody = 8 << 20

type Elastic struct {
	cfg    config.ElasticConfig
	client *http.Client
	logger *slog.Logger
}

func NewElastic(cfg config.ElasticConfig) *Elastic {
	to := cfg.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	return &Elastic{
		cfg:    cfg,
		client: util.NewHTTPClient(to),
		logger: slog.Default().With("component", "source", "source", "elastic"),
	}
}

func (e *Elastic) Name() string { return "elastic" }

func (e *Elastic) base() string { return strings.TrimRight(e.cfg.URL, "/") }

func (e *Elastic) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(e.cfg.User, e.cfg.Password)
	if ua := e.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	return req, nil
}

// TestConnection asks _cat/health; green and yellow clusters are usable.
func (e *Elastic) TestConnection(ctx context.Context) error {
	to := e.cfg.ProbeTimeout
	if to <= 0 || to > 10*time.Second {
		to = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()

	req, err := e.newRequest(ctx, http.MethodGet, e.base()+"/_cat/health?format=json", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("elastic health: %w", err)
	}
	body, err := util.ReadBody(resp, 64<<10)
	if err != nil {
		return fmt.Errorf("elastic health: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elastic health: HTTP %d", resp.StatusCode)
	}
	var rows []struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return fmt.Errorf("%w: elastic health: unexpected body %q", ErrUnhealthy, util.Truncate(string(body), 100))
	}
	status := strings.ToLower(rows[0].Status)
	if status != "green" && status != "yellow" {
		return fmt.Errorf("%w: elastic cluster status %s", ErrUnhealthy, status)
	}
	e.logger.Info("elastic reachable", "status", status)
	return nil
}

// searchQuery builds the bounded, newest-first signal search.
func searchQuery(lookback time.Duration, max int) map[string]any {
	minutes := int(math.Ceil(lookback.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"exists": map[string]any{"field": "signal.rule"}},
				},
				"filter": []any{
					map[string]any{"range": map[string]any{
						"@timestamp": map[string]any{
							"gte": fmt.Sprintf("now-%dm", minutes),
							"lte": "now",
						},
					}},
				},
			},
		},
		"sort": []any{
			map[string]any{"@timestamp": map[string]any{"order": "desc"}},
		},
		"size": max,
	}
}

func (e *Elastic) FetchRecent(ctx context.Context, lookback time.Duration, max int) ([]model.SourceAlert, error) {
	raw, err := json.Marshal(searchQuery(lookback, max))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal query: %v", ErrTransientFetch, err)
	}
	endpoint := e.base() + "/" + url.PathEscape(e.cfg.Index) + "/_search"

	var body []byte
	err = util.Retry(ctx, "elastic search", e.cfg.MaxRetries, e.cfg.Backoff, e.cfg.MaxBackoff, func() error {
		req, err := e.newRequest(ctx, http.MethodPost, endpoint, raw)
		if err != nil {
			return util.Permanent(err)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		b, err := util.ReadBody(resp, maxBody)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			httpErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, util.Truncate(strings.TrimSpace(string(b)), 100))
			if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
				return util.Permanent(httpErr)
			}
			return httpErr
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: elastic search: %v", ErrTransientFetch, err)
	}

	alerts, total, err := decodeHits(body, e.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: elastic search: %v", ErrTransientFetch, err)
	}
	e.logger.Info("fetched recent alerts", "count", len(alerts), "total", total)
	return alerts, nil
}

// flexString accepts JSON strings and numbers. Objects, arrays and booleans
// are kept as their compact JSON text so one oddly shaped field never costs
// the whole hit.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, string(b) == "null":
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, b); err != nil {
		return err
	}
	*f = flexString(compact.String())
	return nil
}

type hit struct {
	ID     flexString `json:"_id"`
	Index  flexString `json:"_index"`
	Source struct {
		Timestamp flexString `json:"@timestamp"`
		Signal    struct {
			Severity any `json:"severity"`
			Rule     struct {
				ID          flexString `json:"id"`
				Name        flexString `json:"name"`
				Description flexString `json:"description"`
				Severity    any        `json:"severity"`
			} `json:"rule"`
		} `json:"signal"`
	} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Total json.RawMessage   `json:"total"`
		Hits  []json.RawMessage `json:"hits"`
	} `json:"hits"`
}

// decodeHits decodes each hit on its own; a hit that still cannot be decoded
// is skipped with a warning naming its _id, and the rest are returned.
func decodeHits(body []byte, logger *slog.Logger) ([]model.SourceAlert, int, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	out := make([]model.SourceAlert, 0, len(sr.Hits.Hits))
	for i, raw := range sr.Hits.Hits {
		var h hit
		if err := json.Unmarshal(raw, &h); err != nil {
			logger.Warn("skipping undecodable hit", "id", hitID(raw), "position", i, "error", err)
			continue
		}
		if h.ID == "" {
			logger.Warn("skipping hit without _id", "position", i)
			continue
		}
		sev := h.Source.Signal.Severity
		if sev == nil {
			sev = h.Source.Signal.Rule.Severity
		}
		out = append(out, model.SourceAlert{
			ID:        string(h.ID),
			Index:     string(h.Index),
			Timestamp: string(h.Source.Timestamp),
			Rule: model.Rule{
				ID:          string(h.Source.Signal.Rule.ID),
				Name:        string(h.Source.Signal.Rule.Name),
				Description: string(h.Source.Signal.Rule.Description),
			},
			Severity: sev,
		})
	}
	return out, decodeTotal(sr.Hits.Total), nil
}

// hitID extracts _id from a hit that failed full decoding, best effort.
func hitID(raw json.RawMessage) string {
	var h struct {
		ID flexString `json:"_id"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return ""
	}
	return string(h.ID)
}

// decodeTotal handles both {"value": n} and the bare number older clusters send.
func decodeTotal(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var obj struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}
