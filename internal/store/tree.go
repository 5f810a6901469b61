package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CleanPath trims slashes and collapses empty segments. The root is "".
func CleanPath(path string) string {
	parts := SplitPath(path)
	return strings.Join(parts, "/")
}

// SplitPath returns the non-empty segments of path.
func SplitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// JoinPath joins segments into a store path.
func JoinPath(parts ...string) string {
	return CleanPath(strings.Join(parts, "/"))
}

// Related reports whether a and b are equal or one is an ancestor of the other.
func Related(a, b string) bool {
	a, b = CleanPath(a), CleanPath(b)
	if a == b || a == "" || b == "" {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Normalize converts an arbitrary Go value into the generic JSON tree form
// (map[string]interface{}, []interface{}, json.Number, string, bool, nil).
func Normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return prune(out), nil
}

// Decode copies a generic tree node into dest.
func Decode(node interface{}, dest interface{}) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode node: %w", err)
	}
	return nil
}

// prune drops nulls and empty objects, matching the store's "absent means null" rule.
func prune(node interface{}) interface{} {
	obj, ok := node.(map[string]interface{})
	if !ok {
		return node
	}
	for k, v := range obj {
		child := prune(v)
		if child == nil {
			delete(obj, k)
			continue
		}
		obj[k] = child
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}

// Lookup returns the node at path inside root.
func Lookup(root map[string]interface{}, path string) (interface{}, bool) {
	var node interface{} = root
	for _, part := range SplitPath(path) {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	if obj, ok := node.(map[string]interface{}); ok && len(obj) == 0 {
		return nil, false
	}
	return node, true
}

// Assign writes value at path inside root, creating intermediate objects and
// replacing scalar ancestors. A nil value removes the path and prunes empty parents.
func Assign(root map[string]interface{}, path string, value interface{}) error {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("cannot assign to the store root")
	}
	if value == nil {
		remove(root, parts)
		return nil
	}
	node := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
	return nil
}

func remove(node map[string]interface{}, parts []string) bool {
	if len(parts) == 1 {
		delete(node, parts[0])
		return len(node) == 0
	}
	child, ok := node[parts[0]].(map[string]interface{})
	if !ok {
		return len(node) == 0
	}
	if remove(child, parts[1:]) {
		delete(node, parts[0])
	}
	return len(node) == 0
}

// Clone deep-copies a tree.
func Clone(node interface{}) interface{} {
	switch typed := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = Clone(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, v := range typed {
			out[i] = Clone(v)
		}
		return out
	default:
		return typed
	}
}

// Leaf is one flattened scalar (or array) value.
type Leaf struct {
	Path  string
	Value interface{}
}

// Flatten expands node under prefix into leaves sorted by path.
// Objects are expanded; arrays and scalars are leaves.
func Flatten(prefix string, node interface{}) []Leaf {
	var leaves []Leaf
	var walk func(path string, n interface{})
	walk = func(path string, n interface{}) {
		obj, ok := n.(map[string]interface{})
		if !ok {
			if n != nil {
				leaves = append(leaves, Leaf{Path: path, Value: n})
			}
			return
		}
		for k, v := range obj {
			walk(JoinPath(path, k), v)
		}
	}
	walk(CleanPath(prefix), node)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return leaves
}

// Unflatten rebuilds the subtree rooted at base from leaves whose paths lie under it.
func Unflatten(base string, leaves []Leaf) (interface{}, bool) {
	base = CleanPath(base)
	root := map[string]interface{}{}
	for _, leaf := range leaves {
		path := CleanPath(leaf.Path)
		if path == base {
			return leaf.Value, true
		}
		rel := path
		if base != "" {
			if !strings.HasPrefix(path, base+"/") {
				continue
			}
			rel = strings.TrimPrefix(path, base+"/")
		}
		if err := Assign(root, rel, leaf.Value); err != nil {
			continue
		}
	}
	if len(root) == 0 {
		return nil, false
	}
	return root, true
}

// PrepareUpdate validates a multi-path write and normalizes its values.
// Writes are returned sorted by path; a nil Value deletes the path.
func PrepareUpdate(updates map[string]interface{}) ([]Leaf, error) {
	writes := make([]Leaf, 0, len(updates))
	for p, v := range updates {
		clean := CleanPath(p)
		if clean == "" {
			return nil, fmt.Errorf("update path %q is empty", p)
		}
		norm, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", clean, err)
		}
		writes = append(writes, Leaf{Path: clean, Value: norm})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Path < writes[j].Path })
	for i := range writes {
		for j := i + 1; j < len(writes); j++ {
			if Related(writes[i].Path, writes[j].Path) {
				return nil, fmt.Errorf("update paths %q and %q overlap", writes[i].Path, writes[j].Path)
			}
		}
	}
	return writes, nil
}
