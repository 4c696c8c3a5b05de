// Package codec provides canonical CBOR encoding helpers shared by the wire
// types in pkg/wire. All on-wire structures use deterministic encoding (§18
// of the design: sorted map keys, no floating types, integer timestamps) so
// that two peers encoding the same value always produce the same bytes —
// required for content-addressed hashing to be stable across re-encodes.
package codec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// CanonicalMode is the shared canonical CBOR encoding mode.
var CanonicalMode cbor.EncMode

func init() {
	var err error
	CanonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create canonical CBOR mode: %v", err))
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return CanonicalMode.Marshal(v)
}

// Unmarshal decodes canonical CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// CanonicalBytes re-encodes data in canonical form by round-tripping through
// a generic value.
func CanonicalBytes(data []byte) ([]byte, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid CBOR: %w", err)
	}
	return Marshal(v)
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) bool {
	canonical, err := CanonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(data, canonical)
}

// SortedMap gives deterministic key ordering to an otherwise unordered map
// when it must be encoded canonically (used by EncodeForSigning below).
type SortedMap struct {
	Keys   []string
	Values map[string]interface{}
}

// NewSortedMap builds a SortedMap from a regular map.
func NewSortedMap(m map[string]interface{}) *SortedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &SortedMap{
		Keys:   keys,
		Values: m,
	}
}

// MarshalCBOR implements deterministic key-ordered encoding.
func (sm *SortedMap) MarshalCBOR() ([]byte, error) {
	orderedMap := make(map[string]interface{}, len(sm.Keys))
	for _, key := range sm.Keys {
		orderedMap[key] = sm.Values[key]
	}
	return CanonicalMode.Marshal(orderedMap)
}

// UnmarshalCBOR implements the inverse of MarshalCBOR.
func (sm *SortedMap) UnmarshalCBOR(data []byte) error {
	var m map[string]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sm.Keys = keys
	sm.Values = m
	return nil
}

// EncodeForSigning canonically encodes v with the named fields removed,
// used to build the bytes an Ed25519 signature is computed over (the
// signature field itself must obviously be excluded from what it signs).
func EncodeForSigning(v interface{}, excludeFields ...string) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := Unmarshal(data, &m); err != nil {
		return nil, err
	}

	for _, field := range excludeFields {
		delete(m, field)
	}

	return Marshal(NewSortedMap(m))
}

// ValidateCanonical returns an error if data is not canonical CBOR.
func ValidateCanonical(data []byte) error {
	if !IsCanonical(data) {
		return fmt.Errorf("data is not in canonical CBOR form")
	}
	return nil
}
