package canon

import (
	"testing"

	"xdao.co/veritaslog/compliance"
)

func TestCanonicalize_SortsTopLevelKeys(t *testing.T) {
	a := Canonicalize(`{"b":2,"a":1}`)
	b := Canonicalize(`{"a":1,"b":2}`)
	if a.Kind != KindJSON || b.Kind != KindJSON {
		t.Fatalf("expected json kind, got %q and %q", a.Kind, b.Kind)
	}
	if a.Data != `{"a":1,"b":2}` {
		t.Fatalf("unexpected canonical form: %s", a.Data)
	}
	if a != b {
		t.Fatalf("expected equal payloads, got %+v vs %+v", a, b)
	}
}

func TestCanonicalize_TextFallback(t *testing.T) {
	got := Canonicalize("  hello\r\nworld  ")
	want := Payload{Kind: KindText, Data: "hello\nworld"}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestCanonicalize_Table(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind Kind
		data string
	}{
		{"empty", "", KindText, ""},
		{"whitespace only", " \r\n\t ", KindText, ""},
		{"bom stripped", "\uFEFF{\"z\":1,\"y\":2}", KindJSON, `{"y":2,"z":1}`},
		{"pretty printed", "{\r\n  \"b\": [1, 2],\r\n  \"a\": \"x\"\r\n}\r\n", KindJSON, `{"a":"x","b":[1,2]}`},
		{"nested order kept", `{"b":{"d":1,"c":2},"a":0}`, KindJSON, `{"a":0,"b":{"d":1,"c":2}}`},
		{"array top level", `[ {"b":1,"a":2}, 3 ]`, KindJSON, `[{"b":1,"a":2},3]`},
		{"number literal kept", `{"n":1.50,"m":1e3}`, KindJSON, `{"m":1e3,"n":1.50}`},
		{"string document", `"quoted"`, KindJSON, `"quoted"`},
		{"number document", `42`, KindJSON, `42`},
		{"bool document", `true`, KindJSON, `true`},
		{"null stays text", `null`, KindText, `null`},
		{"duplicate key last wins", `{"a":1,"b":2,"a":3}`, KindJSON, `{"a":3,"b":2}`},
		{"trailing data", `{"a":1} {"b":2}`, KindText, `{"a":1} {"b":2}`},
		{"broken json", `{"a":1,}`, KindText, `{"a":1,}`},
		{"html not escaped", `{"t":"<b>&</b>"}`, KindJSON, `{"t":"<b>&</b>"}`},
		{"escapes normalized", `{"t":"\u0041\n"}`, KindJSON, `{"t":"A\n"}`},
		{"plain log line", "2024-01-01 ERROR disk full", KindText, "2024-01-01 ERROR disk full"},
		{"bare cr kept", "a\rb", KindText, "a\rb"},
		{"cr before crlf collapses", "a\r\r\nb", KindText, "a\nb"},
		{"repeated bom", "\uFEFF\uFEFFx", KindText, "x"},
		{"bom after space", " \uFEFF{\"b\":1,\"a\":2}", KindJSON, `{"a":2,"b":1}`},
		{"nel is not trimmed", "\u0085x\u0085", KindText, "\u0085x\u0085"},
		{"nbsp trimmed", "\u00A0x\u00A0", KindText, "x"},
		{"line separator raw", "{\"t\":\"a\\u2028b\u2029c\"}", KindJSON, "{\"t\":\"a\u2028b\u2029c\"}"},
		{"escaped backslash before u2028 text", `{"t":"\\u2028"}`, KindJSON, `{"t":"\\u2028"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Canonicalize(tc.in)
			if got.Kind != tc.kind || got.Data != tc.data {
				t.Fatalf("Canonicalize(%q) = {%s %q}, want {%s %q}", tc.in, got.Kind, got.Data, tc.kind, tc.data)
			}
		})
	}
}

func TestCanonicalize_StrictSortsNested(t *testing.T) {
	in := `{"b":{"d":1,"c":{"f":1,"e":2}},"a":[{"y":1,"x":2}]}`
	got := CanonicalizeMode(in, compliance.Strict)
	want := `{"a":[{"x":2,"y":1}],"b":{"c":{"e":2,"f":1},"d":1}}`
	if got.Kind != KindJSON || got.Data != want {
		t.Fatalf("strict: got %+v want %s", got, want)
	}

	shallow := CanonicalizeMode(in, compliance.Permissive)
	if shallow.Data == want {
		t.Fatalf("permissive mode should keep nested order")
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	in := "{\"k3\":[3,2,1],\"k1\":{\"z\":true},\"k2\":\"v\"}"
	first := Canonicalize(in)
	for i := 0; i < 50; i++ {
		if got := Canonicalize(in); got != first {
			t.Fatalf("iteration %d: got %+v want %+v", i, got, first)
		}
	}
}

func TestCanonicalize_IdempotentOnCanonicalJSON(t *testing.T) {
	once := Canonicalize(`{"b":1,"a":{"y":1,"x":2}}`)
	twice := Canonicalize(once.Data)
	if once != twice {
		t.Fatalf("expected stable re-canonicalization, got %+v then %+v", once, twice)
	}
}

func TestCanonicalize_Fixpoint(t *testing.T) {
	inputs := []string{
		"a\r\r\nb",
		"a\r\r\r\n\nb",
		"\uFEFF\uFEFFhello",
		" \uFEFF{\"b\":1,\"a\":2}",
		"\r\n\uFEFF \r\n",
		"\uFEFF\"quoted\"\uFEFF",
		`{"s":"line\u2028sep","z":[1,{"y":1,"x":2}]}`,
	}
	for _, mode := range []compliance.ComplianceMode{compliance.Permissive, compliance.Strict} {
		for _, in := range inputs {
			once := CanonicalizeMode(in, mode)
			twice := CanonicalizeMode(once.Data, mode)
			if once != twice {
				t.Fatalf("%v %q: %+v then %+v", mode, in, once, twice)
			}
		}
	}
}

func TestLiteralLineSeparators(t *testing.T) {
	cases := map[string]string{
		`"plain"`:        `"plain"`,
		`"a\u2028b"`:     "\"a\u2028b\"",
		`"\u2029"`:       "\"\u2029\"",
		`"\\u2028"`:      `"\\u2028"`,
		`"\u2027\u202a"`: `"\u2027\u202a"`,
		`"\n\u2028\\"`:   "\"\\n\u2028\\\\\"",
	}
	for in, want := range cases {
		if got := string(LiteralLineSeparators([]byte(in))); got != want {
			t.Fatalf("LiteralLineSeparators(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestKindValid(t *testing.T) {
	if !KindText.Valid() || !KindJSON.Valid() {
		t.Fatalf("expected built-in kinds to be valid")
	}
	if Kind("yaml").Valid() {
		t.Fatalf("unexpected valid kind")
	}
}
