package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// MaxLimit caps the number of stored events returned per filter, whatever the
// client asks for.
const MaxLimit = 10_000

var tokenSeparator = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// EventFilter : a REQ filter. Criteria are AND-combined; an empty filter
// matches every event.
type EventFilter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Search  string              `json:"search,omitempty"`
}

// UnmarshalJSON decodes the fixed fields and then collects every "#<name>"
// key of the object into Tags.
func (f *EventFilter) UnmarshalJSON(data []byte) error {
	type plain EventFilter
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if len(key) < 2 || !strings.HasPrefix(key, "#") {
			continue
		}
		var values []string
		if err := json.Unmarshal(value, &values); err != nil {
			return fmt.Errorf("invalid %s filter: %w", key, err)
		}
		if p.Tags == nil {
			p.Tags = make(map[string][]string)
		}
		p.Tags[key[1:]] = lo.Uniq(values)
	}

	p.IDs = lo.Uniq(p.IDs)
	p.Authors = lo.Uniq(p.Authors)
	p.Kinds = lo.Uniq(p.Kinds)
	*f = EventFilter(p)
	return nil
}

func (f EventFilter) MarshalJSON() ([]byte, error) {
	type plain EventFilter
	data, err := json.Marshal(plain(f))
	if err != nil || len(f.Tags) == 0 {
		return data, err
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for key, values := range f.Tags {
		obj["#"+key] = values
	}
	return json.Marshal(obj)
}

// EffectiveLimit is the requested limit capped at MaxLimit. A missing limit
// means MaxLimit.
func (f *EventFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

func (f *EventFilter) SearchKeywords() []string {
	return tokenize(f.Search)
}

func (f *EventFilter) Matches(event *Event) bool {
	if f.Since != nil && event.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && event.CreatedAt > *f.Until {
		return false
	}
	if len(f.IDs) > 0 && !hasAnyPrefix(event.ID, f.IDs) {
		return false
	}
	if len(f.Authors) > 0 && !hasAnyPrefix(event.PubKey, f.Authors) {
		return false
	}
	if len(f.Kinds) > 0 && !lo.Contains(f.Kinds, event.Kind) {
		return false
	}
	for key, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		eventValues := event.TagValues(key)
		if !lo.SomeBy(values, func(v string) bool { return lo.Contains(eventValues, v) }) {
			return false
		}
	}
	if keywords := f.SearchKeywords(); len(keywords) > 0 {
		contentTokens := lo.SliceToMap(tokenize(event.Content), func(token string) (string, struct{}) {
			return token, struct{}{}
		})
		for _, keyword := range keywords {
			if _, ok := contentTokens[keyword]; !ok {
				return false
			}
		}
	}
	return true
}

// MatchesAny reports whether at least one of the filters matches.
func MatchesAny(filters []EventFilter, event *Event) bool {
	for i := range filters {
		if filters[i].Matches(event) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

// tokenize splits s on runs of non alphanumeric ASCII characters, then
// lower-cases each token, dropping empty tokens and duplicates. Letters that
// only fold to ASCII, like U+0130 or U+212A, stay separators.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	tokens := lo.FilterMap(tokenSeparator.Split(s, -1), func(token string, _ int) (string, bool) {
		return strings.ToLower(token), token != ""
	})
	return lo.Uniq(tokens)
}
