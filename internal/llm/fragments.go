package llm

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrStreamConsumed = errors.New("llm: fragment stream already consumed")

// newFragments adapts a push-style producer into Fragments. The producer
// receives a yield func that returns false once the consumer stopped; it
// must return promptly after that.
func newFragments(produce func(yield func(string) bool) error) Fragments {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		stopped := false
		err := produce(func(s string) bool {
			if stopped {
				return false
			}
			if s == "" {
				return true
			}
			if !yield(s, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// FromSlice returns Fragments emitting parts in order.
func FromSlice(parts ...string) Fragments {
	return newFragments(func(yield func(string) bool) error {
		for _, p := range parts {
			if !yield(p) {
				return nil
			}
		}
		return nil
	})
}

// Collect drains frags into one string.
func Collect(frags Fragments) (string, error) {
	var b strings.Builder
	for f, err := range frags {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(f)
	}
	return b.String(), nil
}

type apologyClient struct {
	next    Client
	apology string
}

// WithApology wraps c so that an upstream failure is replaced by a single
// apology fragment and the sequence ends normally.
func WithApology(c Client, apology string) Client {
	return apologyClient{next: c, apology: apology}
}

func (a apologyClient) Stream(ctx context.Context, req Request) Fragments {
	upstream := a.next.Stream(ctx, req)
	return newFragments(func(yield func(string) bool) error {
		emitted := false
		for f, err := range upstream {
			if err != nil {
				log.Warn().Err(err).Msg("generation failed, substituting apology")
				sep := ""
				if emitted {
					sep = "\n\n"
				}
				yield(sep + a.apology)
				return nil
			}
			emitted = true
			if !yield(f) {
				return nil
			}
		}
		return nil
	})
}
