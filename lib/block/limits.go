// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// DefaultMaxBlockSize is the ingestion limit applied when
// configuration leaves it unset: 10 MiB.
const DefaultMaxBlockSize = 10 << 20

// ErrSizeLimit matches every [SizeLimitError] via errors.Is.
var ErrSizeLimit = errors.New("block exceeds size limit")

// SizeLimitError reports a block rejected at ingestion for exceeding
// the configured maximum.
type SizeLimitError struct {
	Size  int
	Limit int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("block is %s, limit is %s",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// Is makes errors.Is(err, ErrSizeLimit) true for any SizeLimitError.
func (e *SizeLimitError) Is(target error) bool {
	return target == ErrSizeLimit
}

// Limits bounds what ingestion accepts. The zero value applies
// [DefaultMaxBlockSize].
type Limits struct {
	MaxBlockSize int
}

// Check returns a *SizeLimitError when content is larger than the
// limit.
func (l Limits) Check(content []byte) error {
	limit := l.MaxBlockSize
	if limit <= 0 {
		limit = DefaultMaxBlockSize
	}
	if len(content) > limit {
		return &SizeLimitError{Size: len(content), Limit: limit}
	}
	return nil
}
