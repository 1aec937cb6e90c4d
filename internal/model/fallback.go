// ABOUTME: Fallback chains a primary and a standby backend so one provider
// ABOUTME: outage degrades to the other before the agent gives up

package model

import (
	"context"
	"fmt"
	"log/slog"
)

// Fallback tries the primary backend and, on failure, makes exactly one
// attempt against the standby. It never retries the same provider.
type Fallback struct {
	primary Client
	standby Client
	logger  *slog.Logger
}

// NewFallback wraps primary with an optional standby. A nil standby makes
// the wrapper a pass-through.
func NewFallback(primary, standby Client) *Fallback {
	return &Fallback{
		primary: primary,
		standby: standby,
		logger:  slog.Default().With("component", "model.fallback"),
	}
}

func (f *Fallback) Name() string {
	if f.standby == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.standby.Name()
}

// Complete runs the primary, then the standby on failure. When both fail the
// error wraps ErrProvider and names both providers.
func (f *Fallback) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := f.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if f.standby == nil || ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn("primary provider failed, trying standby",
		"primary", f.primary.Name(),
		"standby", f.standby.Name(),
		"error", err)
	resp, serr := f.standby.Complete(ctx, req)
	if serr != nil {
		return nil, fmt.Errorf("%w: primary %s and standby %s both failed: %v; %v",
			ErrProvider, f.primary.Name(), f.standby.Name(), err, serr)
	}
	return resp, nil
}
