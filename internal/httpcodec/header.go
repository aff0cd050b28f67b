package httpcodec

import "strings"

// Field is a single header line, preserving the exact name/value bytes the
// wire sent (only the single leading/trailing space around the value is
// trimmed, per spec §4.2).
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered sequence of header fields. Order and original case
// are preserved; lookups are case-insensitive per RFC 7230 §3.2.
type Headers []Field

// Get returns the value of the first field matching name (case-insensitive),
// and whether one was found.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value for fields matching name, in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether any field matches name.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Add appends a new field, preserving any existing ones with the same name.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Set replaces all fields matching name with a single field, preserving the
// position of the first match (or appending if name was absent).
func (h *Headers) Set(name, value string) {
	out := make(Headers, 0, len(*h)+1)
	replaced := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if !replaced {
				out = append(out, Field{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, Field{Name: name, Value: value})
	}
	*h = out
}

// Del removes every field matching name.
func (h *Headers) Del(name string) {
	out := make(Headers, 0, len(*h))
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// hasToken reports whether value is one of the comma-separated, case-
// insensitive tokens in the header value (used for Connection/Transfer-Encoding).
func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
