package domain

import "fmt"

// ZeroRef is the empty reference value used by the document store.
const ZeroRef = "00000000-0000-0000-0000-000000000000"

// Record is one business entity document. The "ref" field holds its identity.
type Record map[string]any

// Ref returns the record reference.
func (r Record) Ref() string {
	return r.String("ref")
}

// String returns a field as a string. Non-string scalars are formatted.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns a boolean field, false when absent or not a bool.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Clone returns a shallow copy, so exporters can add fields safely.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsEmptyRef reports whether a reference value points nowhere.
func IsEmptyRef(ref string) bool {
	return ref == "" || ref == ZeroRef
}
