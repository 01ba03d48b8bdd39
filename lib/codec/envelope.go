// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
)

// ErrUnsupportedVersion is returned by [UnmarshalVersioned] when an
// envelope carries a version the caller does not accept.
var ErrUnsupportedVersion = errors.New("unsupported payload version")

type envelope struct {
	Version int        `cbor:"version"`
	Payload RawMessage `cbor:"payload"`
}

// MarshalVersioned encodes v and wraps it in an envelope tagged with
// version.
func MarshalVersioned(version int, v any) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return Marshal(envelope{Version: version, Payload: payload})
}

// UnmarshalVersioned decodes an envelope, checks that its version is
// one of accepted, and decodes the payload into v. Returns the
// envelope's version.
func UnmarshalVersioned(data []byte, v any, accepted ...int) (int, error) {
	var wrapper envelope
	if err := Unmarshal(data, &wrapper); err != nil {
		return 0, fmt.Errorf("decoding envelope: %w", err)
	}
	supported := false
	for _, version := range accepted {
		if version == wrapper.Version {
			supported = true
			break
		}
	}
	if !supported {
		return wrapper.Version, fmt.Errorf("%w: %d (accepted %v)", ErrUnsupportedVersion, wrapper.Version, accepted)
	}
	if err := Unmarshal(wrapper.Payload, v); err != nil {
		return wrapper.Version, fmt.Errorf("decoding version %d payload: %w", wrapper.Version, err)
	}
	return wrapper.Version, nil
}
