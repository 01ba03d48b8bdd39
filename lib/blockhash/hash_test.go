// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockhash

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	original := NewBLAKE3().HashBlock([]byte("round trip"))
	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != original {
		t.Errorf("Parse(String()) = %s, want %s", parsed, original)
	}
}

func TestParseUppercaseNormalizes(t *testing.T) {
	lower := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	parsed, err := Parse(strings.ToUpper(lower))
	if err != nil {
		t.Fatalf("Parse(uppercase): %v", err)
	}
	if parsed.String() != lower {
		t.Errorf("String() = %s, want %s", parsed, lower)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "abcd"},
		{"too long", strings.Repeat("a", 66)},
		{"not hex", strings.Repeat("zz", 32)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Parse(test.input); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", test.input)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{strings.Repeat("0", 64), true},
		{"af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", true},
		{"AF1349B9F5F9A1A6A0404DEA36DCC9499BCB25C9ADC112B7CC9A93CAE41F3262", false},
		{strings.Repeat("0", 63), false},
		{strings.Repeat("0", 65), false},
		{strings.Repeat("g", 64), false},
		{"", false},
	}
	for _, test := range tests {
		if got := IsValid(test.input); got != test.want {
			t.Errorf("IsValid(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() = false")
	}
	if Zero.String() != strings.Repeat("0", 64) {
		t.Errorf("Zero.String() = %s", Zero)
	}
	if NewBLAKE3().HashBlock(nil).IsZero() {
		t.Error("hash of empty content is the zero sentinel")
	}
}

func TestHashJSON(t *testing.T) {
	hash := NewBLAKE3().HashBlock([]byte("json"))
	data, err := json.Marshal(map[string]Hash{"hash": hash})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"hash":"` + hash.String() + `"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var decoded map[string]Hash
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["hash"] != hash {
		t.Errorf("decoded %s, want %s", decoded["hash"], hash)
	}
}

func TestCompareAndSort(t *testing.T) {
	low := MustParse(strings.Repeat("0", 63) + "1")
	high := MustParse("f" + strings.Repeat("0", 63))

	if low.Compare(high) != -1 || high.Compare(low) != 1 || low.Compare(low) != 0 {
		t.Error("Compare does not order bytewise")
	}

	hashes := []Hash{high, Zero, low}
	Sort(hashes)
	if hashes[0] != Zero || hashes[1] != low || hashes[2] != high {
		t.Errorf("Sort = %v", hashes)
	}
}
