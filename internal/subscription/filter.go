package subscription

import (
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/vrsandeep/mediaflow/internal/models"
)

// Filter decides whether a discovered item is wanted. It is compiled once
// per check from the source's settings.
type Filter struct {
	minDuration, maxDuration int64 // seconds, 0 disables
	include, exclude         *ahocorasick.Matcher
}

func normalizeKeywords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func NewFilter(f models.SourceFilter) *Filter {
	c := &Filter{
		minDuration: int64(f.MinDuration.Seconds()),
		maxDuration: int64(f.MaxDuration.Seconds()),
	}
	if kw := normalizeKeywords(f.Include); len(kw) > 0 {
		c.include = ahocorasick.NewStringMatcher(kw)
	}
	if kw := normalizeKeywords(f.Exclude); len(kw) > 0 {
		c.exclude = ahocorasick.NewStringMatcher(kw)
	}
	return c
}

// Allow applies duration bounds, then include keywords, then exclude
// keywords. Items with an unknown duration pass the duration bounds.
func (f *Filter) Allow(item models.DiscoveredItem) bool {
	if secs := int64(item.Duration.Seconds()); secs > 0 {
		if f.minDuration > 0 && secs < f.minDuration {
			return false
		}
		if f.maxDuration > 0 && secs > f.maxDuration {
			return false
		}
	}
	title := []byte(strings.ToLower(item.Title))
	if f.include != nil && len(f.include.Match(title)) == 0 {
		return false
	}
	if f.exclude != nil && len(f.exclude.Match(title)) > 0 {
		return false
	}
	return true
}
