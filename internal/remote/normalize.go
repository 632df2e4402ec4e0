package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultListKeys are the payload fields that may hold list items, checked in
// this order.
var DefaultListKeys = []string{"forms", "contacts", "data", "items"}

// Record is one loosely typed object returned by the API. Accessors accept
// several candidate keys because field names drift between endpoints.
type Record map[string]any

// ListPayload is a list response after key normalization.
type ListPayload struct {
	Items []Record
	// Total, Page, Limit and Pages come from the "pagination" object.
	Total int
	Page  int
	Limit int
	Pages int
	// HasPagination is false when the endpoint sent no pagination block and
	// the caller must derive it.
	HasPagination bool
}

type paginationWire struct {
	Total      *int `json:"total"`
	Page       *int `json:"page"`
	Limit      *int `json:"limit"`
	Pages      *int `json:"pages"`
	TotalPages *int `json:"totalPages"`
}

// DecodeList normalizes a list response. keys overrides DefaultListKeys.
func DecodeList(raw []byte, keys ...string) (ListPayload, error) {
	if len(keys) == 0 {
		keys = DefaultListKeys
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ListPayload{}, nil
	}
	if trimmed[0] == '[' {
		var items []Record
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return ListPayload{}, fmt.Errorf("remote: decode list: %w", err)
		}
		return ListPayload{Items: items}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return ListPayload{}, fmt.Errorf("remote: decode list: %w", err)
	}

	var out ListPayload
	found := false
	for _, key := range keys {
		field, ok := obj[key]
		if !ok || bytes.Equal(bytes.TrimSpace(field), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(field, &out.Items); err != nil {
			// "data" may wrap another level, e.g. {"data":{"forms":[...]}}.
			nested, nestedErr := DecodeList(field, keys...)
			if nestedErr != nil {
				return ListPayload{}, fmt.Errorf("remote: decode list field %q: %w", key, err)
			}
			return nested, nil
		}
		found = true
		break
	}
	if !found {
		return ListPayload{}, errors.New("remote: list payload has no known item field")
	}

	if rawPg, ok := obj["pagination"]; ok {
		var pg paginationWire
		if err := json.Unmarshal(rawPg, &pg); err == nil && pg.Total != nil {
			out.HasPagination = true
			out.Total = *pg.Total
			out.Page = deref(pg.Page)
			out.Limit = deref(pg.Limit)
			out.Pages = deref(pg.Pages)
			if pg.Pages == nil {
				out.Pages = deref(pg.TotalPages)
			}
		}
	}
	if !out.HasPagination {
		for _, key := range []string{"total", "count"} {
			if rawTotal, ok := obj[key]; ok {
				var total int
				if err := json.Unmarshal(rawTotal, &total); err == nil {
					out.Total = total
					out.HasPagination = true
					break
				}
			}
		}
	}
	return out, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// String returns the first non-empty string-ish value among keys.
func (r Record) String(keys ...string) string {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		case map[string]any:
			// Status and service sometimes arrive as {"name": "..."}.
			if s := Record(t).String("name", "label", "value", "title"); s != "" {
				return s
			}
		}
	}
	return ""
}

// Bool returns the first boolean value among keys.
func (r Record) Bool(keys ...string) bool {
	for _, key := range keys {
		switch t := r[key].(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	}
	return false
}

// Time parses the first timestamp found among keys. RFC3339 strings and Unix
// milliseconds are accepted.
func (r Record) Time(keys ...string) time.Time {
	for _, key := range keys {
		switch t := r[key].(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if ts, err := time.Parse(layout, t); err == nil {
					return ts.UTC()
				}
			}
		case float64:
			return time.UnixMilli(int64(t)).UTC()
		}
	}
	return time.Time{}
}

// Records returns the list of objects stored under the first present key.
func (r Record) Records(keys ...string) []Record {
	for _, key := range keys {
		list, ok := r[key].([]any)
		if !ok {
			continue
		}
		out := make([]Record, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Record(m))
			}
		}
		return out
	}
	return nil
}

// Len returns the length of a list or map value, which is how documents are
// counted when their shape varies.
func (r Record) Len(keys ...string) int {
	for _, key := range keys {
		switch t := r[key].(type) {
		case []any:
			return len(t)
		case map[string]any:
			return len(t)
		}
	}
	return 0
}

// Fields flattens scalar values for detail views, skipping nested objects.
func (r Record) Fields(skip ...string) map[string]string {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}
	out := make(map[string]string, len(r))
	for key := range r {
		if _, ok := skipped[key]; ok {
			continue
		}
		switch r[key].(type) {
		case string, float64, bool:
			if v := r.String(key); v != "" {
				out[key] = v
			}
		}
	}
	return out
}
