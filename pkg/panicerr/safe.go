// Package panicerr turns panics raised inside a callback into ordinary errors.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn so a panic inside it is returned as an error.
func Safe(fn func() error) func() error {
	return func() error {
		return Call(fn)
	}
}

// SafeContext is Safe for context-taking callbacks.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return Call(func() error { return fn(ctx) })
	}
}

// Call runs fn and reports either its error or the recovered panic.
func Call(fn func() error) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = fn()
	})
	if err != nil {
		return err
	}
	return catcher.Recovered().AsError()
}
