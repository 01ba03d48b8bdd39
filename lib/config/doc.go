// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for kiln.
//
// Configuration is loaded from a single file specified by either the
// KILN_CONFIG environment variable (via [Load]) or the --config flag
// (via [LoadFile]). Commands that run without a file use [Default].
// There is no file discovery and no environment-variable override of
// individual settings.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter:
// zstd compression and sampled block sizes.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${KILN_ROOT}, and ${VAR:-default} patterns are expanded.
//
// The accessor methods ([Config.Hasher], [Config.SectionConfig],
// [Config.CompressionTag], [Config.BlockLimits],
// [Config.DetectorOptions]) turn validated settings into the values
// the library packages take.
package config
