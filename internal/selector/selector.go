// Package selector reduces a crawled URL list to one representative URL per
// page-type pattern.
package selector

import (
	"github.com/PentesterFlow/sitesurvey/internal/pattern"
)

// Set is an ordered mapping from pattern to the first URL seen with it.
// It is not modified after Select returns.
type Set struct {
	patterns []string
	urls     map[string]string
}

// Len returns the number of page types.
func (s *Set) Len() int { return len(s.patterns) }

// Patterns returns the patterns in first-seen order.
func (s *Set) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// URL returns the representative URL for p.
func (s *Set) URL(p string) (string, bool) {
	u, ok := s.urls[p]
	return u, ok
}

// URLs returns the representative URLs in first-seen order.
func (s *Set) URLs() []string {
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = s.urls[p]
	}
	return out
}

// Map returns a copy of the pattern to URL mapping.
func (s *Set) Map() map[string]string {
	m := make(map[string]string, len(s.urls))
	for k, v := range s.urls {
		m[k] = v
	}
	return m
}

// Selector picks representatives using a Normalizer.
type Selector struct {
	norm *pattern.Normalizer
}

// New creates a Selector. A nil normalizer uses pattern.New().
func New(norm *pattern.Normalizer) *Selector {
	if norm == nil {
		norm = pattern.New()
	}
	return &Selector{norm: norm}
}

// Select walks urls in order and keeps the first URL for each distinct
// pattern, stopping once maxTypes patterns are held. URLs on another host
// produce no pattern and are skipped. maxTypes <= 0 means no bound.
func (s *Selector) Select(urls []string, siteHost string, maxTypes int) *Set {
	set := &Set{urls: make(map[string]string)}
	for _, u := range urls {
		if maxTypes > 0 && len(set.patterns) >= maxTypes {
			break
		}
		p := s.norm.Normalize(u, siteHost)
		if p == "" {
			continue
		}
		if _, seen := set.urls[p]; seen {
			continue
		}
		set.patterns = append(set.patterns, p)
		set.urls[p] = u
	}
	return set
}
