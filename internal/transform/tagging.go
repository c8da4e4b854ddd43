package transform

import (
	"fmt"
	"regexp"
	"strings"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/model"
)

// Tagger adds classification tags on top of BaseTags. Rules run in the
// order keyword, regex, severity; a tag is emitted once.
type Tagger struct {
	keywords []keywordRule
	regex    []regexRule
	severity map[int]string
}

type keywordRule struct {
	words []string
	tags  []string
}

type regexRule struct {
	field string
	re    *regexp.Regexp
	tags  []string
}

func NewTagger(cfg config.TaggingConfig) (*Tagger, error) {
	tg := &Tagger{severity: cfg.Severity.Mapping}

	for _, kr := range cfg.Keywords {
		words := make([]string, 0, len(kr.When))
		for _, w := range kr.When {
			if s := strings.TrimSpace(w); s != "" {
				words = append(words, strings.ToLower(s))
			}
		}
		if len(words) == 0 || len(kr.Tags) == 0 {
			continue
		}
		tg.keywords = append(tg.keywords, keywordRule{words: words, tags: kr.Tags})
	}

	for _, rr := range cfg.Regex {
		if strings.TrimSpace(rr.Field) == "" || strings.TrimSpace(rr.Expr) == "" {
			continue
		}
		re, err := regexp.Compile(rr.Expr)
		if err != nil {
			return nil, fmt.Errorf("tagging regex %q: %w", rr.Expr, err)
		}
		tg.regex = append(tg.regex, regexRule{field: strings.ToLower(rr.Field), re: re, tags: rr.Tags})
	}
	return tg, nil
}

// Tags returns the extra tags matched by a. sev is the normalised severity.
func (tg *Tagger) Tags(a model.SourceAlert, sev int) []string {
	var out []string

	// keyword rules: every word must appear in the rule name or description
	nameLC := strings.ToLower(a.Rule.Name)
	descLC := strings.ToLower(a.Rule.Description)
	for _, kr := range tg.keywords {
		matched := true
		for _, w := range kr.words {
			if !strings.Contains(nameLC, w) && !strings.Contains(descLC, w) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, kr.tags...)
		}
	}

	for _, rr := range tg.regex {
		val := field(a, rr.field)
		if val != "" && rr.re.MatchString(val) {
			out = append(out, rr.tags...)
		}
	}

	if tag, ok := tg.severity[sev]; ok && tag != "" {
		out = append(out, tag)
	}
	return mergeTags(nil, out)
}

func field(a model.SourceAlert, name string) string {
	switch name {
	case "rule_name", "rule", "title":
		return a.Rule.Name
	case "rule_description", "description":
		return a.Rule.Description
	case "rule_id":
		return a.Rule.ID
	case "index":
		return a.Index
	case "id":
		return a.ID
	default:
		return ""
	}
}
