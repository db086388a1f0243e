package logbundle

import (
	"bytes"
	"testing"

	"xdao.co/veritaslog/canon"
	"xdao.co/veritaslog/compliance"
)

func referenceMeta() Meta {
	return Meta{Title: "X", Severity: SeverityHigh, ModuleName: "Ops", Notes: "", CreatedAt: 1700000000}
}

func TestMarshal_PinnedBytes(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{
			name: "text payload",
			text: "incident details",
			want: `{"v":1,"meta":{"title":"X","severity":"HIGH","moduleName":"Ops","notes":"","createdAt":1700000000},"payload":{"kind":"text","data":"incident details"}}`,
		},
		{
			name: "json payload",
			text: `{"b":2,"a":1}`,
			want: `{"v":1,"meta":{"title":"X","severity":"HIGH","moduleName":"Ops","notes":"","createdAt":1700000000},"payload":{"kind":"json","data":"{\"a\":1,\"b\":2}"}}`,
		},
		{
			name: "html characters unescaped",
			text: "a < b && c > d",
			want: `{"v":1,"meta":{"title":"X","severity":"HIGH","moduleName":"Ops","notes":"","createdAt":1700000000},"payload":{"kind":"text","data":"a < b && c > d"}}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := Build(referenceMeta(), tc.text, compliance.Permissive)
			got, err := b.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("bytes mismatch:\n got %s\nwant %s", got, tc.want)
			}
		})
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	b := Build(referenceMeta(), "incident details", compliance.Permissive)
	first, err := b.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := b.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("non-deterministic output on iteration %d", i)
		}
	}
}

func TestUnmarshal_RoundTrip(t *testing.T) {
	b := Build(referenceMeta(), `{"k":"v"}`, compliance.Permissive)
	data, err := b.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != b {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, b)
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad version":   `{"v":2,"meta":{"title":"","severity":"LOW","moduleName":"","notes":"","createdAt":0},"payload":{"kind":"text","data":""}}`,
		"bad kind":      `{"v":1,"meta":{"title":"","severity":"LOW","moduleName":"","notes":"","createdAt":0},"payload":{"kind":"yaml","data":""}}`,
		"bad severity":  `{"v":1,"meta":{"title":"","severity":"URGENT","moduleName":"","notes":"","createdAt":0},"payload":{"kind":"text","data":""}}`,
		"unknown field": `{"v":1,"x":true,"meta":{},"payload":{"kind":"text","data":""}}`,
		"trailing":      `{"v":1,"meta":{},"payload":{"kind":"text","data":""}} {}`,
		"not json":      `ciphertext`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(in)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRecanonicalize_StableForCanonicalPayload(t *testing.T) {
	b := Build(referenceMeta(), "  line one\r\nline two  ", compliance.Permissive)
	if b.Payload.Kind != canon.KindText || b.Payload.Data != "line one\nline two" {
		t.Fatalf("unexpected payload: %+v", b.Payload)
	}
	if again := b.Recanonicalize(compliance.Permissive); again != b {
		t.Fatalf("recanonicalize changed bundle: %+v", again)
	}
}

func TestMarshal_LineSeparatorsRaw(t *testing.T) {
	meta := referenceMeta()
	meta.Notes = "n\u2029"
	b := Build(meta, "a\u2028b", compliance.Permissive)
	data, err := b.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if bytes.Contains(data, []byte(`\u202`)) || !bytes.Contains(data, []byte("a\u2028b")) || !bytes.Contains(data, []byte("n\u2029")) {
		t.Fatalf("separators must be written raw: %s", data)
	}
	back, err := Unmarshal(data)
	if err != nil || back != b {
		t.Fatalf("Unmarshal: %+v, %v", back, err)
	}
}

func TestSeverityCodes(t *testing.T) {
	for _, tc := range []struct {
		sev  Severity
		code uint8
	}{{SeverityLow, 0}, {SeverityMedium, 1}, {SeverityHigh, 2}} {
		if got := tc.sev.Code(); got != tc.code {
			t.Fatalf("%s: code %d want %d", tc.sev, got, tc.code)
		}
		back, err := SeverityFromCode(tc.code)
		if err != nil || back != tc.sev {
			t.Fatalf("SeverityFromCode(%d) = %q, %v", tc.code, back, err)
		}
	}
	if _, err := SeverityFromCode(9); err == nil {
		t.Fatalf("expected error for unknown code")
	}
	if sev, err := ParseSeverity(" medium "); err != nil || sev != SeverityMedium {
		t.Fatalf("ParseSeverity: %q %v", sev, err)
	}
	if _, err := ParseSeverity("urgent"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}
