// Package canon turns submitted log content into the deterministic payload that
// is committed to.
//
// Canonicalization is total: every input produces a Payload. Content that is a
// single JSON document is re-serialized compactly with sorted object keys and
// tagged KindJSON; everything else is kept verbatim (after line-ending and
// whitespace normalization) and tagged KindText.
package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"unicode"

	"xdao.co/veritaslog/compliance"
)

// Kind tags how a payload was canonicalized.
type Kind string

const (
	KindText Kind = "text"
	KindJSON Kind = "json"
)

// Valid reports whether k is one of the known payload kinds.
func (k Kind) Valid() bool { return k == KindText || k == KindJSON }

// Payload is the canonical form of submitted content.
type Payload struct {
	Kind Kind
	Data string
}

// Canonicalize applies the default (Permissive) canonicalization.
func Canonicalize(raw string) Payload {
	return CanonicalizeMode(raw, compliance.Permissive)
}

// CanonicalizeMode normalizes line endings, trims surrounding whitespace and,
// when the result is a JSON document, re-serializes it with sorted keys.
//
// Permissive sorts top-level keys only. Strict sorts keys at every depth.
func CanonicalizeMode(raw string, mode compliance.ComplianceMode) Payload {
	text := NormalizeText(raw)

	v, ok := parseDocument(text)
	if !ok {
		return Payload{Kind: KindText, Data: text}
	}
	if _, isNull := v.(nullValue); isNull {
		// A bare null has no keys to sort; keep it as text.
		return Payload{Kind: KindText, Data: text}
	}

	var buf bytes.Buffer
	depth := 1
	if mode == compliance.Strict {
		depth = -1
	}
	writeValue(&buf, v, depth)
	return Payload{Kind: KindJSON, Data: buf.String()}
}

// NormalizeText converts CRLF to LF and trims surrounding whitespace, including
// byte order marks, until the text no longer changes. The result is a fixpoint:
// NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(raw string) string {
	s := raw
	for {
		next := strings.TrimFunc(strings.ReplaceAll(s, "\r\n", "\n"), isSpace)
		if next == s {
			return s
		}
		s = next
	}
}

// isSpace matches the ECMAScript WhiteSpace and LineTerminator sets: Unicode
// White_Space plus U+FEFF, minus U+0085.
func isSpace(r rune) bool {
	switch r {
	case '\uFEFF':
		return true
	case '\u0085':
		return false
	}
	return unicode.IsSpace(r)
}

type value interface{}

type member struct {
	key string
	val value
}

type object struct{ members []member }

type array struct{ elems []value }

// literal holds a number, string or boolean already in its JSON encoding.
type literal string

type nullValue struct{}

func (o *object) set(key string, v value) {
	for i := range o.members {
		if o.members[i].key == key {
			o.members[i].val = v
			return
		}
	}
	o.members = append(o.members, member{key: key, val: v})
}

// parseDocument parses s as exactly one JSON value. It reports false for
// anything else, including trailing data.
func parseDocument(s string) (value, bool) {
	if s == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}

var errUnexpected = errors.New("canon: unexpected token")

func parseValue(dec *json.Decoder) (value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &object{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, errUnexpected
				}
				v, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj.set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := &array{}
			for dec.More() {
				v, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr.elems = append(arr.elems, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		default:
			return nil, errUnexpected
		}
	case string:
		return literal(encodeString(t)), nil
	case json.Number:
		return literal(t.String()), nil
	case bool:
		if t {
			return literal("true"), nil
		}
		return literal("false"), nil
	case nil:
		return nullValue{}, nil
	default:
		return nil, errUnexpected
	}
}

// writeValue serializes v compactly. Object keys are sorted while depth is
// non-zero; a negative depth sorts at every level.
func writeValue(buf *bytes.Buffer, v value, depth int) {
	switch t := v.(type) {
	case *object:
		members := t.members
		if depth != 0 {
			members = append([]member(nil), members...)
			sort.SliceStable(members, func(i, j int) bool { return members[i].key < members[j].key })
		}
		buf.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(encodeString(m.key))
			buf.WriteByte(':')
			writeValue(buf, m.val, depth-1)
		}
		buf.WriteByte('}')
	case *array:
		buf.WriteByte('[')
		for i, e := range t.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			// Objects inside an array are nested content.
			writeValue(buf, e, nestedDepth(depth))
		}
		buf.WriteByte(']')
	case literal:
		buf.WriteString(string(t))
	case nullValue:
		buf.WriteString("null")
	}
}

func nestedDepth(depth int) int {
	if depth < 0 {
		return depth
	}
	return 0
}

func encodeString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// Encoding a Go string cannot fail.
		return `""`
	}
	return string(LiteralLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})))
}

// LiteralLineSeparators rewrites the \u2028 and \u2029 escapes that
// encoding/json emits back to the raw characters, so encoded strings match
// ECMAScript JSON.stringify. Other escapes are left untouched. b must be
// encoding/json output.
func LiteralLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) {
			switch string(b[i+2 : i+6]) {
			case "2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}
