// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Stores stamp tree rows with created and updated times, and reports
// record when they were generated and how long generation took.
// Production code passes Real(); tests pass Fake() so timestamps in
// assertions are exact:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	store, err := blockstore.Open(blockstore.Config{Path: path, Clock: c})
//	c.Advance(time.Minute)
package clock
