// Package codec is the CBOR encoding used for wire payloads: threshold
// envelopes, session credentials, policy proofs and key-server messages.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so equal values
// always produce equal bytes and signatures over encoded values are stable.
// Structs use integer keys (`cbor:"N,keyasint"`) to keep payloads compact.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Envelopes come from untrusted storage.
		MaxArrayElements:  4096,
		MaxMapPairs:       4096,
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes exactly one CBOR item. Trailing bytes and unknown struct
// fields are errors.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation, for debugging output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
