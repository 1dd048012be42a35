// Package panicerr converts panics in worker goroutines into errors.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// SafeContext wraps fn so that a panic is returned as an error carrying the
// recovered value and its stack.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var err error
		if r := panics.Try(func() { err = fn(ctx) }); r != nil {
			return r.AsError()
		}
		return err
	}
}
