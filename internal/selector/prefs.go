// Package selector scores input devices against user preferences and picks
// the best one.
package selector

import (
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// Rule maps a case-insensitive name substring to a priority.
type Rule struct {
	Pattern  string
	Priority int
}

// PreferenceIndex is an immutable set of rules. The zero value and nil
// score every device 0.
type PreferenceIndex struct {
	rules []Rule
}

// NewPreferenceIndex builds an index, lower-casing patterns and dropping
// empty ones.
func NewPreferenceIndex(rules ...Rule) *PreferenceIndex {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		p := strings.ToLower(strings.TrimSpace(r.Pattern))
		if p == "" {
			continue
		}
		out = append(out, Rule{Pattern: p, Priority: r.Priority})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Priority > out[j].Priority
	})
	return &PreferenceIndex{rules: out}
}

// Score returns the highest priority among rules whose pattern occurs in
// name, or 0 when none match. Scores never go below 0.
func (p *PreferenceIndex) Score(name string) int {
	if p == nil {
		return 0
	}
	name = strings.ToLower(name)
	score := 0
	for _, r := range p.rules {
		if strings.Contains(name, r.Pattern) && r.Priority > score {
			score = r.Priority
		}
	}
	return score
}

// Rules returns a copy of the rules sorted by pattern.
func (p *PreferenceIndex) Rules() []Rule {
	if p == nil {
		return nil
	}
	return slices.Clone(p.rules)
}

// Len returns the number of rules.
func (p *PreferenceIndex) Len() int {
	if p == nil {
		return 0
	}
	return len(p.rules)
}

// Equal reports whether both indexes hold the same rules.
func (p *PreferenceIndex) Equal(o *PreferenceIndex) bool {
	return slices.Equal(p.Rules(), o.Rules())
}

// LoadPreferences builds an index from the raw "microphones" config table.
// Keys are patterns (surrounding quotes stripped), values are priorities.
// Nested tables, produced when a pattern contains the config key
// delimiter, are flattened back with ".". Values that do not convert to an
// integer are skipped with a warning.
func LoadPreferences(raw map[string]any, log zerolog.Logger) *PreferenceIndex {
	var rules []Rule
	flattenPreferences("", raw, &rules, log)
	return NewPreferenceIndex(rules...)
}

func flattenPreferences(prefix string, raw map[string]any, rules *[]Rule, log zerolog.Logger) {
	for key, val := range raw {
		pattern := strings.Trim(strings.TrimSpace(key), `"'`)
		if prefix != "" {
			pattern = prefix + "." + pattern
		}

		switch v := val.(type) {
		case map[string]any:
			flattenPreferences(pattern, v, rules, log)
			continue
		case map[any]any:
			flattenPreferences(pattern, cast.ToStringMap(v), rules, log)
			continue
		case bool, nil:
			log.Warn().Str("pattern", pattern).Interface("value", val).Msg("Invalid microphone priority, skipping")
			continue
		}

		prio, err := cast.ToIntE(val)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Interface("value", val).Msg("Invalid microphone priority, skipping")
			continue
		}
		if strings.TrimSpace(pattern) == "" {
			log.Warn().Int("priority", prio).Msg("Empty microphone pattern, skipping")
			continue
		}
		*rules = append(*rules, Rule{Pattern: pattern, Priority: prio})
	}
}
