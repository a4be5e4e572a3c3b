// Package simple contains the permissive gate used when robots checks are disabled.
package simple

import "context"

// Policy permits every path.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Allowed always returns true.
func (Policy) Allowed(context.Context, string, string, string) bool {
	return true
}
