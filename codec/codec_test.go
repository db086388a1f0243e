package codec

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	B string `cbor:"2,keyasint"`
	A int    `cbor:"1,keyasint"`
}

func TestMarshal_Deterministic(t *testing.T) {
	a, err := Marshal(map[string]int{"z": 1, "a": 2, "m": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		b, err := Marshal(map[string]int{"m": 3, "z": 1, "a": 2})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("map encoding not deterministic")
		}
	}
}

func TestRoundTrip_IntegerKeys(t *testing.T) {
	in := sample{A: 7, B: "seven"}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diag, err := Diagnose(b)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.HasPrefix(diag, "{1: 7") {
		t.Fatalf("expected integer keys in key order, got %s", diag)
	}
	var out sample
	if err := Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestUnmarshal_RejectsTrailingAndUnknown(t *testing.T) {
	b, _ := Marshal(sample{A: 1})
	var out sample
	if err := Unmarshal(append(b, 0x00), &out); err == nil {
		t.Fatalf("expected trailing data error")
	}
	extra, _ := Marshal(map[int]int{1: 1, 9: 9})
	if err := Unmarshal(extra, &out); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
