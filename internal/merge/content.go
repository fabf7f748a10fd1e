package merge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/stacklok/promptsync/internal/checksum"
	"github.com/stacklok/promptsync/internal/model"
)

// ContentMerger combines two versions of an item's content that were edited at
// the same instant. Both inputs are normalized JSON values and must not be
// mutated.
type ContentMerger interface {
	Merge(local, remote map[string]any) map[string]any
}

// fieldRules merges content by field kind. Fields that are not listed fall back
// to the generic value merge.
type fieldRules struct {
	// text fields keep the longer string
	text []string
	// list fields keep the longer array
	lists []string
	// set fields keep the union of both arrays
	sets []string
	// scalar fields keep the explicitly set value, local first
	scalars []string
}

var (
	promptRules = fieldRules{
		text:    []string{"content", "description", "systemPrompt", "notes"},
		lists:   []string{"variables", "examples", "images", "versions"},
		sets:    []string{"tags"},
		scalars: []string{"categoryId", "isFavorite", "usageCount", "model", "language"},
	}
	categoryRules = fieldRules{
		text:    []string{"name", "description"},
		scalars: []string{"icon", "color", "parentId", "order"},
	}
	aiConfigRules = fieldRules{
		text: []string{"name", "description"},
		scalars: []string{"provider", "model", "apiKey", "baseUrl", "temperature", "maxTokens",
			"topP", "isDefault", "enabled"},
		lists: []string{"models"},
	}
	settingRules = fieldRules{
		scalars: []string{"key", "value", "scope"},
	}
	userRules = fieldRules{
		text:    []string{"name", "displayName", "bio"},
		scalars: []string{"email", "avatar", "locale"},
	}
	postRules = fieldRules{
		text:  []string{"body", "summary"},
		lists: []string{"attachments", "comments"},
		sets:  []string{"tags"},
	}
	historyRules = fieldRules{
		text:    []string{"input", "output"},
		scalars: []string{"promptId", "model", "tokens", "durationMs"},
	}
)

// mergerFor returns the content merger of t.
func mergerFor(t model.ItemType) ContentMerger {
	switch t {
	case model.TypePrompt:
		return promptRules
	case model.TypeCategory:
		return categoryRules
	case model.TypeAIConfig:
		return aiConfigRules
	case model.TypeSetting:
		return settingRules
	case model.TypeUser:
		return userRules
	case model.TypePost:
		return postRules
	case model.TypeHistory:
		return historyRules
	default:
		return fieldRules{}
	}
}

// Merge implements ContentMerger
func (r fieldRules) Merge(local, remote map[string]any) map[string]any {
	if local == nil && remote == nil {
		return nil
	}
	kinds := make(map[string]func(l, r any) any)
	for _, f := range r.text {
		kinds[f] = longerString
	}
	for _, f := range r.lists {
		kinds[f] = longerList
	}
	for _, f := range r.sets {
		kinds[f] = unionList
	}
	for _, f := range r.scalars {
		kinds[f] = preferDefined
	}

	out := make(map[string]any, len(local)+len(remote))
	for key, lv := range local {
		rv, ok := remote[key]
		if !ok {
			out[key] = lv
			continue
		}
		if fn, ok := kinds[key]; ok {
			out[key] = fn(lv, rv)
		} else {
			out[key] = mergeValue(lv, rv)
		}
	}
	for key, rv := range remote {
		if _, ok := local[key]; !ok {
			out[key] = rv
		}
	}
	return out
}

// mergeValue is the generic fallback: maps merge key by key, strings keep the
// longer value, arrays are unioned and anything else prefers the defined value.
func mergeValue(l, r any) any {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	switch lt := l.(type) {
	case map[string]any:
		if rt, ok := r.(map[string]any); ok {
			return fieldRules{}.Merge(lt, rt)
		}
	case string:
		if _, ok := r.(string); ok {
			return longerString(l, r)
		}
	case []any:
		if _, ok := r.([]any); ok {
			return unionList(l, r)
		}
	}
	return l
}

func longerString(l, r any) any {
	ls, lok := l.(string)
	rs, rok := r.(string)
	switch {
	case !lok || !rok:
		return mergeValue(l, r)
	case len([]rune(rs)) > len([]rune(ls)):
		return rs
	default:
		return ls
	}
}

func longerList(l, r any) any {
	la, lok := l.([]any)
	ra, rok := r.([]any)
	switch {
	case !lok || !rok:
		return mergeValue(l, r)
	case len(ra) > len(la):
		return ra
	default:
		return la
	}
}

func unionList(l, r any) any {
	la, lok := l.([]any)
	ra, rok := r.([]any)
	if !lok || !rok {
		return preferDefined(l, r)
	}
	seen := make(map[string]struct{}, len(la)+len(ra))
	out := make([]any, 0, len(la)+len(ra))
	for _, v := range append(append([]any(nil), la...), ra...) {
		key := identity(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func preferDefined(l, r any) any {
	if l == nil {
		return r
	}
	return l
}

func identity(v any) string {
	data, err := checksum.Encode(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

// normalize converts content to plain JSON values so merge functions only see
// maps, slices, strings, json.Number, bools and nil.
func normalize(content map[string]any) (map[string]any, error) {
	if content == nil {
		return nil, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	return out, nil
}
