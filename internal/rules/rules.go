// Package rules implements the rule engine (spec.md §4.2, component B):
// a YAML-defined list of match/mutate/suppress rules applied to every
// alert a worker takes off the queue, before correlation. Grounded on the teacher's
// internal/alerts/engine.go, which walks an ordered list of configured
// rules against each event; this package keeps that walk-in-order shape
// but replaces the teacher's throttle/escalation semantics with the
// spec's match-mutate-suppress semantics.
//
// Per the REDESIGN FLAG, rule actions are restricted to a small
// compiled-in registry of named parsers (see Registry/ParserFunc below) —
// there is no user-supplied expression evaluation and no plugin loading.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opsfabric/alertflow/internal/apperr"
	"github.com/opsfabric/alertflow/internal/model"
)

// ParserFunc post-processes an alert after match/mutate has run. The
// registry is compiled in; rule files select a parser by name only.
type ParserFunc func(alert *model.Alert) error

// Registry is the compiled-in set of named parsers available to rules via
// their `parser:` field.
var Registry = map[string]ParserFunc{
	"default":       parseDefault,
	"threshold-text": parseThresholdFromText,
}

// thresholdPattern extracts "N > M" / "N < M" style comparisons commonly
// embedded in monitoring check output, e.g. "CPU at 97 > 90".
var thresholdPattern = regexp.MustCompile(`(-?\d+(\.\d+)?)\s*([<>]=?)\s*(-?\d+(\.\d+)?)`)

func parseDefault(*model.Alert) error { return nil }

func parseThresholdFromText(alert *model.Alert) error {
	if alert.ThresholdInfo != "" || alert.Text == "" {
		return nil
	}
	if m := thresholdPattern.FindString(alert.Text); m != "" {
		alert.ThresholdInfo = m
	}
	return nil
}

// Engine holds the loaded, ordered rule set.
type Engine struct {
	rules []model.Rule
}

// Load reads and parses a YAML rule file (spec.md §4.2: rules are reloaded
// fresh on every inbound message — there is no file-watch/hot-reload
// signalling, per Non-goals).
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.CodeRuleLoadFailed, "failed to read rule file "+path, err)
	}
	var rules []model.Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, apperr.New(apperr.CodeRuleLoadFailed, "failed to parse rule file "+path, err)
	}
	for i, r := range rules {
		if r.Parser != "" {
			if _, ok := Registry[r.Parser]; !ok {
				return nil, apperr.New(apperr.CodeRuleLoadFailed,
					fmt.Sprintf("rule %d references unknown parser %q", i, r.Parser), nil)
			}
		}
	}
	return &Engine{rules: rules}, nil
}

// NewEngine builds an Engine directly from an already-parsed rule list,
// used by tests and by callers that load rules from a non-file source.
func NewEngine(rules []model.Rule) *Engine {
	return &Engine{rules: rules}
}

// Apply walks the rule list in order against alert and applies the first
// matching rule's mutators and parser, then stops: rule list order is
// significant, and evaluation stops at the first hit (spec.md §4.2). It
// returns true if the matching rule marked the alert suppressed — the
// worker drops a suppressed alert before correlation, so it is neither
// persisted nor published.
func (e *Engine) Apply(alert *model.Alert) (suppressed bool, err error) {
	for i := range e.rules {
		r := &e.rules[i]
		if !matches(r, alert) {
			continue
		}
		mutate(r, alert)
		if r.Suppress {
			suppressed = true
		}
		if r.Parser != "" {
			if fn, ok := Registry[r.Parser]; ok {
				if err := fn(alert); err != nil {
					return suppressed, err
				}
			}
		}
		break
	}
	return suppressed, nil
}

func matches(r *model.Rule, alert *model.Alert) bool {
	for field, want := range r.Match {
		got := fieldValue(alert, field)
		if !globMatch(want, got) {
			return false
		}
	}
	return true
}

// fieldValue reads the named alert field for matching. Unknown field names
// read as the empty string (so only an empty or "*" pattern matches them),
// rather than panicking on a typo'd rule file.
func fieldValue(alert *model.Alert, field string) string {
	switch strings.ToLower(field) {
	case "environment":
		return strings.Join(alert.Environment, ",")
	case "resource":
		return alert.Resource
	case "event":
		return alert.Event
	case "severity":
		return string(alert.Severity)
	case "service":
		return strings.Join(alert.Service, ",")
	case "group":
		return alert.Group
	case "origin":
		return alert.Origin
	default:
		return ""
	}
}

// globMatch supports a leading/trailing "*" wildcard, the only pattern
// shape the rule file format needs (spec.md rule examples use prefix and
// suffix globs, never full regex).
func globMatch(pattern, value string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(value, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(value, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	default:
		return pattern == value
	}
}

func mutate(r *model.Rule, alert *model.Alert) {
	if r.Event != "" {
		alert.Event = expand(r.Event, alert)
	}
	if r.Resource != "" {
		alert.Resource = expand(r.Resource, alert)
	}
	if r.Severity != "" {
		alert.Severity = model.Severity(strings.ToUpper(r.Severity))
		alert.SeverityCode = alert.Severity.Code()
	}
	if r.Group != "" {
		alert.Group = expand(r.Group, alert)
	}
	if r.Value != "" {
		alert.Value = expand(r.Value, alert)
	}
	if r.Text != "" {
		alert.Text = expand(r.Text, alert)
	}
	if len(r.Environment) > 0 {
		alert.Environment = append([]string(nil), r.Environment...)
	}
	if len(r.Service) > 0 {
		alert.Service = append([]string(nil), r.Service...)
	}
	if len(r.Tags) > 0 {
		alert.Tags = append([]string(nil), r.Tags...)
	}
	if len(r.CorrelatedEvents) > 0 {
		alert.CorrelatedEvents = append([]string(nil), r.CorrelatedEvents...)
	}
	if r.ThresholdInfo != "" {
		alert.ThresholdInfo = expand(r.ThresholdInfo, alert)
	}
}

// expand substitutes ${field} placeholders in a mutator template with the
// alert's current field values, so rules can enrich rather than replace
// (e.g. text: "threshold breached: ${text}").
func expand(template string, alert *model.Alert) string {
	replacer := strings.NewReplacer(
		"${event}", alert.Event,
		"${resource}", alert.Resource,
		"${environment}", strings.Join(alert.Environment, ","),
		"${severity}", string(alert.Severity),
		"${value}", alert.Value,
		"${text}", alert.Text,
	)
	return replacer.Replace(template)
}
