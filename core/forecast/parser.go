package forecast

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/exportmon/exportmon/core/model"
)

// Payload is a raw forecast as exposed by the host: the entity's primary
// state string and its attribute map. Either may be empty.
type Payload struct {
	State      string
	Attributes map[string]any
}

// Parse extracts forecast periods from a payload. It never fails hard:
// malformed input yields (nil, false), and individual records missing a
// start, end or intensity are dropped without failing the whole parse.
//
// The primary state is preferred when it holds JSON. When the state is
// unreadable but the attributes carry a well-formed period list, parsing
// still succeeds from the attributes. That is a quirk of the source
// integrations this module deliberately tolerates.
func Parse(p Payload) ([]model.Period, bool) {
	raw := rawPeriods(p)
	if len(raw) == 0 {
		return nil, false
	}

	periods := make([]model.Period, 0, len(raw))
	for _, r := range raw {
		rec, ok := r.(map[string]any)
		if !ok {
			continue
		}
		period, ok := parseRecord(rec)
		if !ok {
			continue
		}
		periods = append(periods, period)
	}
	if len(periods) == 0 {
		return nil, false
	}
	return periods, true
}

// Region returns the feed's region shortname when the attributes carry one.
func Region(p Payload) string {
	if p.Attributes == nil {
		return ""
	}
	if s, ok := p.Attributes["shortname"].(string); ok {
		return s
	}
	return ""
}

// rawPeriods digs the period list out of the payload. Accepted shapes:
//
//	state: {"data": [...]} or {"data": {"data": [...]}}
//	attributes: "data" as a list of records, or a dict holding "data"
func rawPeriods(p Payload) []any {
	if p.State != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(p.State), &doc); err == nil {
			if list := unwrapData(doc["data"]); list != nil {
				return list
			}
		}
	}
	if p.Attributes == nil {
		return nil
	}
	switch attr := p.Attributes["data"].(type) {
	case []any:
		return attr
	case map[string]any:
		return unwrapData(attr)
	}
	return nil
}

func unwrapData(v any) []any {
	switch d := v.(type) {
	case []any:
		return d
	case map[string]any:
		if nested, ok := d["data"].([]any); ok {
			return nested
		}
	}
	return nil
}

func parseRecord(rec map[string]any) (model.Period, bool) {
	from, ok := parseTime(rec["from"])
	if !ok {
		return model.Period{}, false
	}
	to, ok := parseTime(rec["to"])
	if !ok {
		return model.Period{}, false
	}
	intensity, index, ok := parseIntensity(rec["intensity"])
	if !ok {
		return model.Period{}, false
	}
	p := model.Period{From: from, To: to, Intensity: intensity, Index: index}
	if !p.Valid() {
		return model.Period{}, false
	}
	return p, true
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	// Some feeds emit a bare "Z" suffix, others a numeric offset.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04Z07:00", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// parseIntensity accepts either the nested {"forecast": n, "index": "low"}
// shape or a bare number.
func parseIntensity(v any) (float64, string, bool) {
	switch iv := v.(type) {
	case map[string]any:
		f, ok := toFloat(iv["forecast"])
		if !ok {
			return 0, "", false
		}
		index, _ := iv["index"].(string)
		return f, strings.TrimSpace(index), true
	default:
		f, ok := toFloat(v)
		if !ok {
			return 0, "", false
		}
		return f, "", true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
