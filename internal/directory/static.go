package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"webkart/internal/naming"
)

// Entry is a business listed in a StaticDirectory.
type Entry struct {
	Reference string `json:"reference"`
	Name      string `json:"name"`
	// Phone, when set, must equal the query phone.
	Phone string `json:"phone,omitempty"`
}

// StaticDirectory matches queries against a fixed allowlist. Names compare by
// their domain label, so spacing, punctuation and case do not matter.
type StaticDirectory struct {
	name string

	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewStatic builds a StaticDirectory. Entries whose names normalize to
// nothing are skipped.
func NewStatic(name string, entries ...Entry) *StaticDirectory {
	d := &StaticDirectory{name: name, entries: make(map[string][]Entry)}
	for _, e := range entries {
		d.Add(e)
	}
	return d
}

// LoadStatic reads a JSON array of entries from path.
func LoadStatic(name, path string) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	return NewStatic(name, entries...), nil
}

// Add lists an entry. It reports false when the name has no label.
func (d *StaticDirectory) Add(e Entry) bool {
	label, err := naming.Normalize(e.Name)
	if err != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[label] = append(d.entries[label], e)
	return true
}

func (d *StaticDirectory) Name() string { return d.name }

func (d *StaticDirectory) Lookup(ctx context.Context, query Query) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	label, err := naming.Normalize(query.Name)
	if err != nil {
		return Result{Source: d.name}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries[label] {
		if e.Phone != "" && !strings.EqualFold(e.Phone, query.Phone) {
			continue
		}
		return Result{Matched: true, Source: d.name, Reference: e.Reference}, nil
	}
	return Result{Source: d.name}, nil
}
