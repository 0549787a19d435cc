// Package directory looks businesses up in external business directories.
//
// Every adapter satisfies the same Lookup contract: a Result with Matched set
// on a hit, Matched false on a clean miss, and an error only when the
// directory could not answer.
package directory

import (
	"context"
)

// Query identifies the business to look up.
type Query struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Result is a directory answer.
type Result struct {
	Matched bool
	// Source names the directory that answered.
	Source string
	// Reference is the directory's own id for the matched entry.
	Reference string
}

// Directory is implemented by every adapter in this package.
type Directory interface {
	Lookup(ctx context.Context, query Query) (Result, error)
	Name() string
}
