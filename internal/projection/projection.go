// Package projection selects subsets of open records by dotted field paths,
// e.g. "customer.first_name". Projection is pure: it never mutates the source
// record and is safe for concurrent use.
package projection

import "strings"

// Spec is an ordered set of dotted paths. An empty Spec means "all fields".
type Spec []string

// Parse builds a Spec from a comma-separated list of dotted paths, dropping
// empty segments. Parse("") yields an empty Spec.
func Parse(s string) Spec {
	if s == "" {
		return nil
	}
	var spec Spec
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			spec = append(spec, p)
		}
	}
	return spec
}

// Empty reports whether the spec selects all fields.
func (s Spec) Empty() bool { return len(s) == 0 }

// Apply returns a new record containing only the requested paths, preserving
// nesting. Paths absent from the source are silently omitted. With an empty
// spec the source record is returned unchanged.
func (s Spec) Apply(rec map[string]any) map[string]any {
	if s.Empty() {
		return rec
	}
	out := make(map[string]any)
	for _, p := range s {
		copyPath(rec, out, strings.Split(p, "."))
	}
	return out
}

// ApplyAll projects every record in a batch.
func (s Spec) ApplyAll(recs []map[string]any) []map[string]any {
	if s.Empty() {
		return recs
	}
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = s.Apply(r)
	}
	return out
}

// copyPath copies the value addressed by path from src into dst, creating
// intermediate maps as needed. A path segment that lands on a list of objects
// applies the remainder of the path to every element.
func copyPath(src, dst map[string]any, path []string) {
	key := path[0]
	v, ok := src[key]
	if !ok {
		return
	}
	if len(path) == 1 {
		dst[key] = v
		return
	}

	switch t := v.(type) {
	case map[string]any:
		sub, _ := dst[key].(map[string]any)
		created := sub == nil
		if created {
			sub = make(map[string]any)
		}
		copyPath(t, sub, path[1:])
		// A freshly created but still-empty map means the deeper path was
		// absent; omit the key entirely in that case.
		if !created || len(sub) > 0 {
			dst[key] = sub
		}
	case []any:
		elems, _ := dst[key].([]any)
		if elems == nil {
			elems = make([]any, len(t))
		}
		for i, e := range t {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			sub, _ := elems[i].(map[string]any)
			if sub == nil {
				sub = make(map[string]any)
			}
			copyPath(em, sub, path[1:])
			elems[i] = sub
		}
		dst[key] = elems
	}
}
