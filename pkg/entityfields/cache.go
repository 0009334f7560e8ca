package entityfields

import (
	"sort"
)

// Permanent is the max-age of metadata that never expires
const Permanent = -1

// CacheableMetadata is the set of cache tags, contexts and max-age a render
// result depends on. Values are immutable: every method returns a copy.
// A nil MaxAge means Permanent.
type CacheableMetadata struct {
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Contexts []string `json:"contexts,omitempty" yaml:"contexts,omitempty"`
	MaxAge   *int     `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// NewCacheableMetadata returns empty, permanent metadata
func NewCacheableMetadata() CacheableMetadata {
	return CacheableMetadata{}
}

// MaxAgeSeconds returns the max-age, Permanent when unset
func (m CacheableMetadata) MaxAgeSeconds() int {
	if m.MaxAge == nil {
		return Permanent
	}
	return *m.MaxAge
}

// WithMaxAge returns a copy with the given max-age
func (m CacheableMetadata) WithMaxAge(seconds int) CacheableMetadata {
	out := m.clone()
	if seconds < 0 {
		out.MaxAge = nil
		return out
	}
	out.MaxAge = &seconds
	return out
}

// AddTags returns a copy with the tags merged in
func (m CacheableMetadata) AddTags(tags ...string) CacheableMetadata {
	out := m.clone()
	out.Tags = mergeSorted(out.Tags, tags)
	return out
}

// AddContexts returns a copy with the contexts merged in
func (m CacheableMetadata) AddContexts(contexts ...string) CacheableMetadata {
	out := m.clone()
	out.Contexts = mergeSorted(out.Contexts, contexts)
	return out
}

// Merge returns the union of both tag and context sets and the lower max-age
func (m CacheableMetadata) Merge(other CacheableMetadata) CacheableMetadata {
	out := m.clone()
	out.Tags = mergeSorted(out.Tags, other.Tags)
	out.Contexts = mergeSorted(out.Contexts, other.Contexts)
	out.MaxAge = mergeMaxAge(m.MaxAge, other.MaxAge)
	return out
}

// IsEmpty reports whether the metadata carries no dependency
func (m CacheableMetadata) IsEmpty() bool {
	return len(m.Tags) == 0 && len(m.Contexts) == 0 && m.MaxAge == nil
}

func (m CacheableMetadata) clone() CacheableMetadata {
	out := CacheableMetadata{
		Tags:     append([]string(nil), m.Tags...),
		Contexts: append([]string(nil), m.Contexts...),
	}
	if m.MaxAge != nil {
		v := *m.MaxAge
		out.MaxAge = &v
	}
	return out
}

func mergeMaxAge(a, b *int) *int {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil:
		v := *a
		return &v
	}
	v := *a
	if *b < v {
		v = *b
	}
	return &v
}

// mergeSorted returns the sorted, de-duplicated union of a and b
func mergeSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
