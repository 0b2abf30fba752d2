package cardfile

import (
	"encoding/json"
	"sort"
	"strings"
)

// RefScheme is the internal URI scheme used by structured data to point at
// assets packaged alongside the card. During finalization every reference
// is rewritten to the asset's public path.
const RefScheme = "embedded://"

// CollectRefs walks the parsed structured data and returns every distinct
// embedded:// reference found in string values, sorted. References can
// appear anywhere in nested structures, including inside longer prose.
func CollectRefs(v any) []string {
	set := make(map[string]struct{})
	collectRefs(v, set)
	refs := make([]string, 0, len(set))
	for r := range set {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(v any, set map[string]struct{}) {
	switch val := v.(type) {
	case string:
		for _, ref := range refsInString(val) {
			set[ref] = struct{}{}
		}
	case map[string]any:
		for _, child := range val {
			collectRefs(child, set)
		}
	case []any:
		for _, child := range val {
			collectRefs(child, set)
		}
	}
}

// refsInString extracts embedded:// URIs from a string that may contain
// surrounding prose (markdown image tags and the like). A reference runs
// until whitespace or a closing delimiter.
func refsInString(s string) []string {
	var refs []string
	for i := 0; ; {
		idx := strings.Index(s[i:], RefScheme)
		if idx < 0 {
			break
		}
		start := i + idx
		end := start + len(RefScheme)
		for end < len(s) && !isRefTerminator(s[end]) {
			end++
		}
		if end > start+len(RefScheme) {
			refs = append(refs, s[start:end])
		}
		i = end
	}
	return refs
}

func isRefTerminator(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '"', '\'', ')', ']', '>', ',':
		return true
	}
	return false
}

// RewriteRefs replaces every occurrence of each mapped reference inside
// string values of the parsed tree. Rewriting operates on the tree rather
// than on the serialized blob so unrelated content that merely resembles
// JSON syntax is never touched; within a string value, substring
// occurrences (e.g. inside markdown) are all rewritten.
func RewriteRefs(v any, mapping map[string]string) any {
	switch val := v.(type) {
	case string:
		out := val
		for ref, public := range mapping {
			out = strings.ReplaceAll(out, ref, public)
		}
		return out
	case map[string]any:
		for k, child := range val {
			val[k] = RewriteRefs(child, mapping)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = RewriteRefs(child, mapping)
		}
		return val
	default:
		return v
	}
}

// RewriteJSON parses raw structured data, rewrites embedded references,
// and re-serializes. The input must be valid JSON; finalization aborts
// before reaching this point otherwise.
func RewriteJSON(raw []byte, mapping map[string]string) ([]byte, error) {
	if len(mapping) == 0 {
		return raw, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	doc = RewriteRefs(doc, mapping)
	return json.Marshal(doc)
}
