// Package transform turns Elasticsearch detection signals into TheHive
// alerts. Everything here is pure: the clock is an argument and every
// missing field has a fallback.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/model"
	"elastic-hive-sync/internal/util"
)

const (
	AlertType        = "elastic_siem"
	AlertSource      = "Elastic Security"
	TitlePlaceholder = "Elastic Alert"
	MaxTitleLen      = 150
	DefaultSeverity  = 2
	DefaultTLP       = 2
	DefaultPAP       = 2
)

// BaseTags are attached to every forwarded alert.
var BaseTags = []string{"elastic", "security", "auto-import", "siem"}

var severityNames = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

type Transformer struct {
	sourceHost string
	tagger     *Tagger
}

// New compiles the tagging rules; an invalid regex is a configuration error.
func New(sourceHost string, tagging config.TaggingConfig) (*Transformer, error) {
	tg, err := NewTagger(tagging)
	if err != nil {
		return nil, err
	}
	return &Transformer{sourceHost: sourceHost, tagger: tg}, nil
}

// ToSinkAlert maps a signal to TheHive's alert schema. fp is the alert's
// fingerprint and now stands in for missing or unparseable timestamps.
func (t *Transformer) ToSinkAlert(a model.SourceAlert, fp string, now time.Time) model.SinkAlert {
	sev := Severity(a.Severity)

	title := strings.TrimSpace(a.Rule.Name)
	if title == "" {
		title = TitlePlaceholder
	}

	tags := append([]string(nil), BaseTags...)
	if t.tagger != nil {
		tags = mergeTags(tags, t.tagger.Tags(a, sev))
	}

	return model.SinkAlert{
		Type:        AlertType,
		Source:      AlertSource,
		SourceRef:   SourceRef(a.ID, fp),
		Title:       util.Truncate(title, MaxTitleLen),
		Description: t.narrative(a, sev, now),
		Severity:    sev,
		Date:        DateMillis(a.Timestamp, now),
		Tags:        tags,
		TLP:         DefaultTLP,
		PAP:         DefaultPAP,
	}
}

// SourceRef combines the source ID with the fingerprint so TheHive's
// duplicate check keys on both.
func SourceRef(id, fp string) string {
	return id + ":" + fp
}

func (t *Transformer) narrative(a model.SourceAlert, sev int, now time.Time) string {
	var b strings.Builder
	b.WriteString("**Elastic Security Alert**\n\n")
	fmt.Fprintf(&b, "**Rule:** %s\n", orDefault(a.Rule.Name, "Unknown"))
	fmt.Fprintf(&b, "**Description:** %s\n\n", orDefault(a.Rule.Description, "No description"))
	b.WriteString("**Details:**\n")
	fmt.Fprintf(&b, "- Elastic ID: %s\n", a.ID)
	if a.Rule.ID != "" {
		fmt.Fprintf(&b, "- Rule ID: %s\n", a.Rule.ID)
	}
	fmt.Fprintf(&b, "- Timestamp: %s\n", orDefault(a.Timestamp, "Unknown"))
	fmt.Fprintf(&b, "- Severity: %d (%s)\n\n", sev, SeverityLabel(sev))
	fmt.Fprintf(&b, "**Source:** %s\n", t.sourceHost)
	fmt.Fprintf(&b, "**Imported at:** %s", now.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Severity normalises the raw signal severity to TheHive's 1-4 scale.
func Severity(raw any) int {
	switch v := raw.(type) {
	case float64:
		return severityFromFloat(v)
	case int:
		return severityFromFloat(float64(v))
	case int64:
		return severityFromFloat(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return severityFromFloat(f)
		}
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if n, ok := severityNames[s]; ok {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return severityFromFloat(f)
		}
	}
	return DefaultSeverity
}

func severityFromFloat(f float64) int {
	if f != math.Trunc(f) || f < 1 || f > 4 {
		return DefaultSeverity
	}
	return int(f)
}

func SeverityLabel(sev int) string {
	for name, n := range severityNames {
		if n == sev {
			return cases.Title(language.English).String(name)
		}
	}
	return "Unknown"
}

// DateMillis converts an ISO-8601 @timestamp to epoch milliseconds, or
// returns now when it cannot.
func DateMillis(ts string, now time.Time) int64 {
	ts = strings.TrimSpace(ts)
	if strings.Contains(ts, "T") {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UnixMilli()
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", ts, time.UTC); err == nil {
			return t.UnixMilli()
		}
	}
	return now.UnixMilli()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func mergeTags(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, t := range base {
		seen[t] = struct{}{}
	}
	for _, t := range extra {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		base = append(base, t)
	}
	return base
}
