package commitment

import (
	"fmt"
	"testing"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/compliance"
	"xdao.co/veritaslog/logbundle"
)

func referenceMeta() logbundle.Meta {
	return logbundle.Meta{Title: "X", Severity: logbundle.SeverityHigh, ModuleName: "Ops", Notes: "", CreatedAt: 1700000000}
}

func mustOf(t *testing.T, b logbundle.Bundle) Commitment {
	t.Helper()
	c, _, err := Of(b)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	return c
}

func TestOf_PinnedDigest(t *testing.T) {
	c := mustOf(t, logbundle.Build(referenceMeta(), "incident details", compliance.Permissive))
	const want = "43c95a96a9ae8182dbe6277fadc58ebf1499d1255f7e8af059a4b6b9a886f368"
	if c.Hex() != want {
		t.Fatalf("digest mismatch: got %s want %s", c.Hex(), want)
	}

	j := mustOf(t, logbundle.Build(referenceMeta(), `{"b":2,"a":1}`, compliance.Permissive))
	const wantJSON = "9658993039340b18460fa4308f58ef6a5632893744cf6cf86cfebe894c250e0a"
	if j.Hex() != wantJSON {
		t.Fatalf("json digest mismatch: got %s want %s", j.Hex(), wantJSON)
	}
}

func TestOf_Deterministic(t *testing.T) {
	b := logbundle.Build(referenceMeta(), "incident details", compliance.Permissive)
	first := mustOf(t, b)
	for i := 0; i < 10; i++ {
		if got := mustOf(t, b); got != first {
			t.Fatalf("iteration %d: %s != %s", i, got, first)
		}
	}
}

func TestOf_JSONKeyOrderIrrelevant(t *testing.T) {
	a := mustOf(t, logbundle.Build(referenceMeta(), `{"b":2,"a":1}`, compliance.Permissive))
	b := mustOf(t, logbundle.Build(referenceMeta(), `{"a":1,"b":2}`, compliance.Permissive))
	if a != b {
		t.Fatalf("expected equal commitments for reordered keys")
	}
}

func TestOf_DistinctPayloadsDiffer(t *testing.T) {
	seen := make(map[Commitment]string, 2000)
	for i := 0; i < 2000; i++ {
		text := fmt.Sprintf("payload-%d", i)
		c := mustOf(t, logbundle.Build(referenceMeta(), text, compliance.Permissive))
		if prev, ok := seen[c]; ok {
			t.Fatalf("collision between %q and %q", prev, text)
		}
		seen[c] = text
	}
}

func TestOf_SingleCharacterFlip(t *testing.T) {
	orig := mustOf(t, logbundle.Build(referenceMeta(), "incident details", compliance.Permissive))
	flipped := mustOf(t, logbundle.Build(referenceMeta(), "incident detailz", compliance.Permissive))
	if orig == flipped {
		t.Fatalf("expected different commitment after tampering")
	}
}

func TestParse(t *testing.T) {
	c := Derive([]byte("x"))
	for _, in := range []string{c.Hex(), "0x" + c.Hex(), "  " + c.Hex() + "\n"} {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if !got.Equal(c) {
			t.Fatalf("Parse(%q) mismatch", in)
		}
	}
	for _, bad := range []string{"", "abc", c.Hex()[:62] + "zz"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q): expected error", bad)
		}
	}
}

func TestPrefix(t *testing.T) {
	c := Derive(nil)
	if got := c.Prefix(16); got != "e3b0c44298fc1c14" {
		t.Fatalf("Prefix(16) = %s", got)
	}
	if got := c.Prefix(100); got != c.Hex() {
		t.Fatalf("Prefix beyond length should return full hex")
	}
}

func TestCID_MatchesContentCID(t *testing.T) {
	data := []byte("bundle bytes")
	c := Derive(data)
	id, err := c.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	want, err := cidutil.Sum(data)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if !id.Equals(want) {
		t.Fatalf("CID mismatch: %s vs %s", id, want)
	}
}

func TestTextRoundTrip(t *testing.T) {
	c := Derive([]byte("y"))
	txt, err := c.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back Commitment
	if err := back.UnmarshalText(txt); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != c {
		t.Fatalf("text round trip mismatch")
	}
}
