// Package naming derives internationalized domain names from business names.
//
// Everything here is pure: no I/O, no shared mutable state outside the
// optional Deriver cache, safe for concurrent use.
package naming

import (
	"sync"

	"golang.org/x/net/idna"
)

// FreeZone is the second-level label every candidate is placed under.
const FreeZone = "free"

// DomainCandidate is a suggested domain for a business.
type DomainCandidate struct {
	Label string
	TLD   string
	// Full is the Unicode (U-label) form, Label + ".free." + TLD.
	Full string
	// ASCII is the Punycode (A-label) form of Full. Empty when the label
	// cannot be expressed as a registrable IDN (for example mixed-direction
	// text); Full is still a valid display suggestion.
	ASCII string
}

// Derive builds the candidate domain for name in language.
func Derive(name string, language Language) (DomainCandidate, error) {
	label, err := Normalize(name)
	if err != nil {
		return DomainCandidate{}, err
	}
	tld := language.TLD()
	full := label + "." + FreeZone + "." + tld

	ascii, err := idna.Punycode.ToASCII(full)
	if err != nil {
		ascii = ""
	}
	return DomainCandidate{Label: label, TLD: tld, Full: full, ASCII: ascii}, nil
}

type cacheKey struct {
	name     string
	language Language
}

type cacheEntry struct {
	candidate DomainCandidate
	err       error
}

// Deriver memoizes Derive by (name, language). The zero value is not usable;
// construct with NewDeriver.
type Deriver struct {
	maxEntries int

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// NewDeriver returns a Deriver caching up to maxEntries results. A full cache
// is reset before the next insert. A non-positive maxEntries disables
// caching.
func NewDeriver(maxEntries int) *Deriver {
	return &Deriver{maxEntries: maxEntries, cache: make(map[cacheKey]cacheEntry)}
}

// Derive returns the same result as the package-level Derive.
func (d *Deriver) Derive(name string, language Language) (DomainCandidate, error) {
	if d.maxEntries <= 0 {
		return Derive(name, language)
	}
	key := cacheKey{name: name, language: language}

	d.mu.RLock()
	entry, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return entry.candidate, entry.err
	}

	candidate, err := Derive(name, language)

	d.mu.Lock()
	if len(d.cache) >= d.maxEntries {
		clear(d.cache)
	}
	d.cache[key] = cacheEntry{candidate: candidate, err: err}
	d.mu.Unlock()

	return candidate, err
}

// Len reports the number of cached results.
func (d *Deriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}
