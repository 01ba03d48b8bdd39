// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package section

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig matches configuration validation failures.
var ErrInvalidConfig = errors.New("invalid virtualization config")

// Config controls when and how sections are virtualized.
type Config struct {
	// Threshold is the largest section count kept as-is. A document
	// virtualizes when its section count is strictly greater.
	Threshold int `yaml:"threshold" json:"threshold"`

	// GroupSize is the number of sections per virtual section. The
	// final window may be shorter.
	GroupSize int `yaml:"group_size" json:"group_size"`
}

// Presets.
var (
	DefaultConfig  = Config{Threshold: 100, GroupSize: 10}
	LargeConfig    = Config{Threshold: 500, GroupSize: 25}
	MinimalConfig  = Config{Threshold: 50, GroupSize: 5}
	DisabledConfig = Config{Threshold: math.MaxInt, GroupSize: 1}
)

// PresetByName returns a named preset: "default", "large", "minimal",
// or "disabled".
func PresetByName(name string) (Config, error) {
	switch name {
	case "default", "":
		return DefaultConfig, nil
	case "large":
		return LargeConfig, nil
	case "minimal":
		return MinimalConfig, nil
	case "disabled":
		return DisabledConfig, nil
	default:
		return Config{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, name)
	}
}

// Validate checks that the config can drive [Virtualize].
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("%w: threshold %d is negative", ErrInvalidConfig, c.Threshold))
	}
	if c.GroupSize < 1 {
		errs = append(errs, fmt.Errorf("%w: group size %d is less than 1", ErrInvalidConfig, c.GroupSize))
	}
	return errors.Join(errs...)
}

// ShouldVirtualize reports whether a document with sectionCount
// sections exceeds the threshold.
func ShouldVirtualize(sectionCount int, config Config) bool {
	return sectionCount > config.Threshold
}
