// Package wire is the binary form of interpreter snapshots. A snapshot is
// encoded as canonical CBOR and sealed in an envelope that carries a
// SHA-256 digest of the encoded body, so a stored or transmitted snapshot
// is verified before it is restored.
package wire

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/wang/vm"
)

// EnvelopeVersion is the version of the envelope layout.
const EnvelopeVersion = 1

// Format names a snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name. The empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("wire: unknown snapshot format %q", s)
}

// Envelope wraps an encoded snapshot with its digest.
type Envelope struct {
	Version byte     `cbor:"1,keyasint"`
	Digest  [32]byte `cbor:"2,keyasint"`
	Body    []byte   `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	// Snapshot values are JSON-shaped: maps decode with string keys.
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes a snapshot as a sealed CBOR envelope.
func Marshal(s *vm.Snapshot) ([]byte, error) {
	body, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal snapshot: %w", err)
	}
	return encMode.Marshal(&Envelope{Version: EnvelopeVersion, Digest: sha256.Sum256(body), Body: body})
}

// Unmarshal verifies and decodes a sealed CBOR envelope.
func Unmarshal(data []byte) (*vm.Snapshot, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("wire: unsupported envelope version %d", env.Version)
	}
	if sum := sha256.Sum256(env.Body); sum != env.Digest {
		return nil, fmt.Errorf("wire: digest mismatch: declared %x, computed %x", env.Digest[:8], sum[:8])
	}
	var s vm.Snapshot
	if err := decMode.Unmarshal(env.Body, &s); err != nil {
		return nil, fmt.Errorf("wire: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Digest returns the content hash of a snapshot's canonical encoding. Two
// snapshots of the same state have the same digest.
func Digest(s *vm.Snapshot) ([32]byte, error) {
	body, err := encMode.Marshal(s)
	if err != nil {
		return [32]byte{}, fmt.Errorf("wire: marshal snapshot: %w", err)
	}
	return sha256.Sum256(body), nil
}

// Encode renders a snapshot in the given format.
func Encode(s *vm.Snapshot, f Format) ([]byte, error) {
	switch f {
	case FormatCBOR:
		return Marshal(s)
	case FormatJSON, "":
		return s.JSON()
	}
	return nil, fmt.Errorf("wire: unknown snapshot format %q", f)
}

// Decode reads a snapshot in either format. JSON documents start with '{';
// anything else is taken as a CBOR envelope.
func Decode(data []byte) (*vm.Snapshot, error) {
	if Detect(data) == FormatJSON {
		return vm.ParseSnapshot(data)
	}
	return Unmarshal(data)
}

// Detect reports the format of an encoded snapshot.
func Detect(data []byte) Format {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatCBOR
}
