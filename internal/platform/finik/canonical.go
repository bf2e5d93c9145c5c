package finik

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const apiHeaderPrefix = "x-api-"

// CanonicalRequest is the signable view of an HTTP request.
// Headers may be supplied in any case; only host and x-api-* are kept.
type CanonicalRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Query   map[string][]string
	// Body is the decoded JSON body (map, slice, json.Number, ...). nil means no body.
	Body any
}

// NewCanonicalRequestFromHTTP captures an inbound request. body is the raw
// request body; it is decoded with UseNumber so numeric literals survive
// re-serialization unchanged.
func NewCanonicalRequestFromHTTP(r *http.Request, body []byte) (*CanonicalRequest, error) {
	headers := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		headers[name] = values[0]
	}
	// net/http moves Host out of the header map.
	if r.Host != "" {
		headers["host"] = r.Host
	}

	decoded, err := DecodeBody(body)
	if err != nil {
		return nil, err
	}

	return &CanonicalRequest{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Headers: headers,
		Query:   r.URL.Query(),
		Body:    decoded,
	}, nil
}

// DecodeBody decodes a JSON body, returning nil for an empty payload.
func DecodeBody(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return v, nil
}

// String builds the canonical string:
//
//	method \n path \n headers \n [query \n] body
func (r *CanonicalRequest) String() (string, error) {
	body, err := CanonicalBody(r.Body)
	if err != nil {
		return "", err
	}

	parts := []string{strings.ToLower(r.Method), r.Path, canonicalHeaders(r.Headers)}
	if q := canonicalQuery(r.Query); q != "" {
		parts = append(parts, q)
	}
	parts = append(parts, body)
	return strings.Join(parts, "\n"), nil
}

func canonicalHeaders(headers map[string]string) string {
	selected := make(map[string]string, len(headers))
	for name, value := range headers {
		key := strings.ToLower(name)
		if key == "host" || strings.HasPrefix(key, apiHeaderPrefix) {
			selected[key] = value
		}
	}

	keys := make([]string, 0, len(selected))
	for k := range selected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+selected[k])
	}
	return strings.Join(pairs, "&")
}

func canonicalQuery(query map[string][]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		// repeated parameters collapse to a comma-joined value
		pairs = append(pairs, encodeURIComponent(k)+"="+encodeURIComponent(strings.Join(query[k], ",")))
	}
	return strings.Join(pairs, "&")
}

// encodeURIComponent matches the ECMAScript function: unreserved marks
// !'()* stay literal and spaces become %20.
var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}

// CanonicalBody serializes v as compact JSON with object keys sorted at every
// depth. Array order is preserved. An absent or empty object yields "".
func CanonicalBody(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case map[string]any:
		if len(t) == 0 {
			return "", nil
		}
	case []any:
		if len(t) == 0 {
			return "", nil
		}
	}

	// encoding/json emits map keys in sorted order, recursively.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode canonical body: %w", err)
	}
	return unescapeLiteralRunes(strings.TrimSuffix(buf.String(), "\n")), nil
}

// literalEscapes are the escapes encoding/json emits where JSON.stringify
// writes the character itself: the line and paragraph separators, and the
// replacement character standing in for invalid UTF-8.
var literalEscapes = map[string]string{
	"2028": "\u2028",
	"2029": "\u2029",
	"fffd": "\ufffd",
}

// unescapeLiteralRunes rewrites those escapes inside encoded JSON. Escape
// pairs are skipped as a unit, so an escaped backslash followed by the text
// u2028 is left alone.
func unescapeLiteralRunes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		if s[i+1] == 'u' && i+6 <= len(s) {
			if r, ok := literalEscapes[s[i+2:i+6]]; ok {
				b.WriteString(r)
				i += 5
				continue
			}
		}
		b.WriteString(s[i : i+2])
		i++
	}
	return b.String()
}

// ToGeneric converts a typed payload into the generic form (maps, slices,
// json.Number) that CanonicalBody sorts.
func ToGeneric(payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return DecodeBody(raw)
}
