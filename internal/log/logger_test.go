// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWithComponent(t *testing.T) {
	l := WithComponent("feeder")
	// The component field must survive derivation.
	child := l.With().Str("extra", "x").Logger()
	assert.NotPanics(t, func() {
		child.Debug().Msg("derived logger usable")
	})
}

func TestContextEnrichment(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "abc-123")
	ctx = ContextWithTaskSeq(ctx, 42)

	assert.Equal(t, "abc-123", SessionIDFromContext(ctx))
	seq, ok := TaskSeqFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), seq)

	// Enrichment of a logger must not panic and unrelated contexts stay empty.
	_ = WithContext(ctx, L())
	assert.Equal(t, "", SessionIDFromContext(context.Background()))
	_, ok = TaskSeqFromContext(context.Background())
	assert.False(t, ok)
}

func TestDerive(t *testing.T) {
	l := Derive(nil)
	assert.NotPanics(t, func() { l.Debug().Msg("nil builder usable") })

	l = Derive(func(c *zerolog.Context) {
		*c = c.Str("job", "sweep")
	})
	assert.NotPanics(t, func() { l.Debug().Msg("custom builder usable") })
}

func TestContextEnrichmentNilSafe(t *testing.T) {
	//nolint:staticcheck // nil context intentionally exercised
	assert.Equal(t, "", SessionIDFromContext(nil))
	//nolint:staticcheck
	_ = WithContext(nil, L())
}
