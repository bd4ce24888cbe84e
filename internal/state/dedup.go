// Package state holds per-call bookkeeping for a crawl.
package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Visited is the set of URLs admitted for fetching during one crawl call.
// A Bloom filter answers most misses; an exact map settles its false
// positives.
type Visited struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewVisited creates a set sized for about estimated URLs.
func NewVisited(estimated int) *Visited {
	if estimated < 64 {
		estimated = 64
	}
	return &Visited{
		filter: bloom.NewWithEstimates(uint(estimated), 0.001),
		exact:  make(map[string]struct{}, estimated),
	}
}

// Admit records url and reports whether it was new. Check and insert happen
// under one lock, so concurrent callers admit each URL exactly once.
func (v *Visited) Admit(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.filter.TestString(url) {
		if _, ok := v.exact[url]; ok {
			return false
		}
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	return true
}

// Seen reports whether url has been admitted.
func (v *Visited) Seen(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, ok := v.exact[url]
	return ok
}

// Len returns the number of admitted URLs.
func (v *Visited) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.exact)
}
