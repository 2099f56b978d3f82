// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !unix

package fsutil

import "math"

// FreeBytes has no portable implementation here; report unlimited so the
// disk guard never trips on platforms without Statfs.
func FreeBytes(path string) (int64, error) {
	return math.MaxInt64, nil
}
