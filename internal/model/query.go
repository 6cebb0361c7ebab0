package model

import (
	"net/url"
	"strings"
)

// QueryParams is an insertion-ordered string map. Setting an existing key
// replaces its value but keeps its original position.
type QueryParams struct {
	keys   []string
	values map[string]string
}

// ParseQuery decodes a raw query string. Duplicate keys resolve to the last
// value. Malformed percent escapes are kept as literal text.
func ParseQuery(raw string) QueryParams {
	var q QueryParams
	for part := range strings.SplitSeq(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key := unescapeLenient(k)
		if key == "" {
			continue
		}
		q.Set(key, unescapeLenient(v))
	}
	return q
}

// unescapeLenient form-decodes s. A '%' not followed by two hex digits is
// left as is instead of failing the whole value.
func unescapeLenient(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}
	return c - '0'
}

// Get returns the value for key and whether it was present.
func (q QueryParams) Get(key string) (string, bool) {
	v, ok := q.values[key]
	return v, ok
}

// Set stores value under key.
func (q *QueryParams) Set(key, value string) {
	if q.values == nil {
		q.values = make(map[string]string)
	}
	if _, ok := q.values[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.values[key] = value
}

// Without returns a copy of q with key removed.
func (q QueryParams) Without(key string) QueryParams {
	var out QueryParams
	for _, k := range q.keys {
		if k == key {
			continue
		}
		out.Set(k, q.values[k])
	}
	return out
}

// Len returns the number of distinct keys.
func (q QueryParams) Len() int {
	return len(q.keys)
}

// Encode renders the parameters in insertion order, form-encoded.
func (q QueryParams) Encode() string {
	if len(q.keys) == 0 {
		return ""
	}
	var b strings.Builder
	for i, k := range q.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.values[k]))
	}
	return b.String()
}
