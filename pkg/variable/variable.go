// Package variable implements the name+labels identifier used throughout
// the storage engine: parsing and formatting the textual form
// name{k=v,k2="quoted,value"}, label accessors, equality, and the
// wildcard/regex match used by both queries and retention policies.
//
// Grounded on the original C++ Variable class (lib/variable.cc):
// acceptable variable characters are a-zA-Z0-9._-/*,; acceptable label
// value characters are a-zA-Z0-9._-/* plus space, anything else forces
// quoting. Labels are kept in insertion order so formatting is
// deterministic for a given sequence of SetLabel calls.
package variable

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/openinstrument/store/internal/storeerrors"
)

// ValueType classifies the kind of time-series a Variable represents.
// It affects nothing in storage or matching; it is carried through as
// metadata for consumers (e.g. RATE mutations make most sense on
// COUNTER variables).
type ValueType int

const (
	UNKNOWN ValueType = iota
	GAUGE
	RATE
	COUNTER
)

func (t ValueType) String() string {
	switch t {
	case GAUGE:
		return "GAUGE"
	case RATE:
		return "RATE"
	case COUNTER:
		return "COUNTER"
	default:
		return "UNKNOWN"
	}
}

// label is one key=value pair. Stored in a slice rather than a map so
// that Format can reproduce the insertion order invariant §4.A requires.
type label struct {
	key   string
	value string
}

// Variable is a name plus an ordered set of labels. The zero value is
// not useful; construct with New or Parse.
type Variable struct {
	name   string
	labels []label
	typ    ValueType
}

// New creates a Variable with no labels. name is not validated here;
// validation happens in Parse and in the storage layer's Record path,
// which rejects names that don't start with '/' per §4.D.
func New(name string) *Variable {
	return &Variable{name: name}
}

func (v *Variable) Name() string { return v.name }

func (v *Variable) SetName(name string) { v.name = name }

func (v *Variable) Type() ValueType { return v.typ }

func (v *Variable) SetType(t ValueType) { v.typ = t }

// SetLabel inserts or updates a label. Existing keys keep their
// original position so that re-setting a label does not change the
// textual form's label ordering.
func (v *Variable) SetLabel(key, value string) {
	for i := range v.labels {
		if v.labels[i].key == key {
			v.labels[i].value = value
			return
		}
	}
	v.labels = append(v.labels, label{key: key, value: value})
}

// RemoveLabel deletes a label if present; a no-op otherwise.
func (v *Variable) RemoveLabel(key string) {
	for i := range v.labels {
		if v.labels[i].key == key {
			v.labels = append(v.labels[:i], v.labels[i+1:]...)
			return
		}
	}
}

// GetLabel returns the value for key and whether it was present.
func (v *Variable) GetLabel(key string) (string, bool) {
	for _, l := range v.labels {
		if l.key == key {
			return l.value, true
		}
	}
	return "", false
}

// HasLabel reports whether key is present, regardless of value.
func (v *Variable) HasLabel(key string) bool {
	_, ok := v.GetLabel(key)
	return ok
}

// Labels returns the labels in insertion order. The returned slice must
// not be mutated by the caller.
func (v *Variable) Labels() []struct{ Key, Value string } {
	out := make([]struct{ Key, Value string }, len(v.labels))
	for i, l := range v.labels {
		out[i] = struct{ Key, Value string }{l.key, l.value}
	}
	return out
}

// Clone returns a deep copy so callers can mutate labels on a per-stream
// basis (aggregation does this to rewrite the group-by label).
func (v *Variable) Clone() *Variable {
	c := &Variable{name: v.name, typ: v.typ, labels: make([]label, len(v.labels))}
	copy(c.labels, v.labels)
	return c
}

// isNameChar matches the Variable name character set: a-zA-Z0-9._-/*,
func isNameChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-' || r == '/' || r == '*' || r == ',':
		return true
	}
	return false
}

// isSafeValueChar matches characters that never require quoting in a
// label value: a-zA-Z0-9._- */ and space.
func isSafeValueChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-' || r == '/' || r == '*' || r == ' ':
		return true
	}
	return false
}

func shouldQuote(s string) bool {
	for _, r := range s {
		if !isSafeValueChar(r) {
			return true
		}
	}
	return false
}

func quoteValue(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// Format renders the Variable as name{k=v,k2="quoted value"}, labels in
// insertion order, values quoted only when they contain a character
// outside the safe set.
func (v *Variable) Format() string {
	if len(v.labels) == 0 {
		return v.name
	}
	var b strings.Builder
	b.WriteString(v.name)
	b.WriteByte('{')
	for i, l := range v.labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.key)
		b.WriteByte('=')
		if shouldQuote(l.value) {
			b.WriteString(quoteValue(l.value))
		} else {
			b.WriteString(l.value)
		}
	}
	b.WriteByte('}')
	return b.String()
}

func (v *Variable) String() string { return v.Format() }

func isInvalidNameRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

// Parse reads a Variable from its textual form. A missing '{' means an
// empty label set. An empty name, or a name containing whitespace or
// control characters, is ErrInvalidVariable. An unterminated or
// malformed label list (no matching '}', a "k" entry without '=') is
// also ErrInvalidVariable, per §4.A ("unknown label within {…} is a hard
// parse failure").
func Parse(input string) (*Variable, error) {
	brace := strings.IndexByte(input, '{')
	if brace < 0 {
		name := input
		if err := validateName(name); err != nil {
			return nil, err
		}
		return &Variable{name: name}, nil
	}

	name := input[:brace]
	if err := validateName(name); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(input, "}") {
		return nil, fmt.Errorf("%w: unterminated label set in %q", storeerrors.ErrInvalidVariable, input)
	}
	body := input[brace+1 : len(input)-1]

	v := &Variable{name: name}
	if body == "" {
		return v, nil
	}

	for _, part := range splitLabels(body) {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: label %q has no '='", storeerrors.ErrInvalidVariable, part)
		}
		key := part[:eq]
		val := part[eq+1:]
		if key == "" {
			return nil, fmt.Errorf("%w: empty label key in %q", storeerrors.ErrInvalidVariable, input)
		}
		unquoted, err := unquoteValue(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", storeerrors.ErrInvalidVariable, err)
		}
		v.SetLabel(key, unquoted)
	}
	return v, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", storeerrors.ErrInvalidVariable)
	}
	for _, r := range name {
		if isInvalidNameRune(r) {
			return fmt.Errorf("%w: name %q contains whitespace or control characters", storeerrors.ErrInvalidVariable, name)
		}
	}
	return nil
}

// splitLabels splits a comma-separated k=v list, honoring double-quoted
// values that may themselves contain commas and escaped quotes.
func splitLabels(body string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\' && inQuotes:
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// unquoteValue strips a surrounding pair of double quotes and undoes
// backslash-escaping of '"' and '\\'. Values without surrounding quotes
// pass through unchanged.
func unquoteValue(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s, nil
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	b.Grow(len(inner))
	escaped := false
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	if escaped {
		return "", fmt.Errorf("dangling escape in quoted value %q", s)
	}
	return b.String(), nil
}

// Equals reports whether two Variables have identical names and label
// maps (order-independent).
func (v *Variable) Equals(other *Variable) bool {
	if other == nil || v.name != other.name || len(v.labels) != len(other.labels) {
		return false
	}
	for _, l := range v.labels {
		ov, ok := other.GetLabel(l.key)
		if !ok || ov != l.value {
			return false
		}
	}
	return true
}

// Match implements §3's match semantics: a trailing '*' on the search
// name matches any suffix; a search label value of "*" requires the key
// to be present with any value; a value of the form /re/ must fully
// match as a regex; any other value requires exact string equality. An
// empty search.name matches nothing (queries with empty names are
// rejected upstream, per §4.A).
func (v *Variable) Match(search *Variable) bool {
	if search.name == "" {
		return false
	}
	if strings.HasSuffix(search.name, "*") {
		prefix := search.name[:len(search.name)-1]
		if !strings.HasPrefix(v.name, prefix) {
			return false
		}
	} else if v.name != search.name {
		return false
	}

	for _, l := range search.labels {
		if l.value == "*" {
			if !v.HasLabel(l.key) {
				return false
			}
			continue
		}
		if isRegexValue(l.value) {
			re, err := regexp.Compile("^(?:" + l.value[1:len(l.value)-1] + ")$")
			if err != nil {
				return false
			}
			got, _ := v.GetLabel(l.key)
			if !re.MatchString(got) {
				return false
			}
			continue
		}
		got, ok := v.GetLabel(l.key)
		if !ok || got != l.value {
			return false
		}
	}
	return true
}

func isRegexValue(s string) bool {
	return len(s) > 2 && s[0] == '/' && s[len(s)-1] == '/'
}

// ApproxSize estimates the in-RAM footprint of this Variable, ported
// from the original's Variable::RamSize(). The live datastore does not
// call it and keeps no store_max_ram_mb budget.
func (v *Variable) ApproxSize() int {
	size := len(v.name)
	for _, l := range v.labels {
		size += len(l.key) + len(l.value)
	}
	return size
}
