// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package audiofeed

import (
	"context"
	"errors"
	"os"
)

var errNoFIFO = errors.New("audiofeed: named pipes are not supported on windows")

// CreateFIFO is unsupported on Windows.
func CreateFIFO(_ string) error {
	return errNoFIFO
}

func openWriteEnd(_ context.Context, _ string) (*os.File, error) {
	return nil, errNoFIFO
}
