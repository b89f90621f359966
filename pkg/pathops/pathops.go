// Package pathops implements dot-notation operations over JSON-like trees.
//
// A path addresses nested map keys: "a.b.c". The empty path and "." both
// denote the root. Values are the shapes produced by encoding/json:
// nil, bool, float64, string, []any and map[string]any.
package pathops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// CyclicValueError is returned when a value to clone references itself.
// Tool responses are decoded JSON and are acyclic in practice; a cycle
// indicates a programming error upstream.
type CyclicValueError struct {
	Path string
}

func (e *CyclicValueError) Error() string {
	return fmt.Sprintf("cyclic value at %q cannot be cloned", e.Path)
}

// IsRoot reports whether path denotes the tree root.
func IsRoot(path string) bool {
	return path == "" || path == "."
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// Get returns the value addressed by path. The second return is false when
// any intermediate is missing or not a map.
func Get(obj any, path string) (any, bool) {
	if IsRoot(path) {
		return obj, true
	}

	current := obj
	for _, key := range splitPath(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path, creating intermediate maps as needed. An
// intermediate that exists but is not a map is replaced. Setting the root
// is refused.
func Set(obj map[string]any, path string, value any) error {
	if IsRoot(path) {
		return fmt.Errorf("cannot set root path")
	}

	keys := splitPath(path)
	current := obj
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
	return nil
}

// Delete removes the value at path. Missing paths are a no-op. Deleting the
// root is refused.
func Delete(obj map[string]any, path string) error {
	if IsRoot(path) {
		return fmt.Errorf("cannot delete root path")
	}

	keys := splitPath(path)
	current := obj
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	delete(current, keys[len(keys)-1])
	return nil
}

// Extract splits a response into extracted values and a residual.
//
// With no extract paths the residual is the original response untouched.
// Otherwise the residual is an independent deep clone with each extracted
// path removed; when any extract path is the root, or preservePaths is
// non-empty, the residual is instead rebuilt to contain only preservePaths.
// Neither the input nor the extracted values alias the residual.
func Extract(response any, extractPaths, preservePaths []string) (map[string]any, any, error) {
	extracted := make(map[string]any)
	if len(extractPaths) == 0 {
		return extracted, response, nil
	}

	// One clone feeds the extracted map, another the residual, so that
	// mutating the residual cannot reach the extracted values.
	valueTree, err := DeepClone(response)
	if err != nil {
		return nil, nil, err
	}
	residualTree, err := DeepClone(response)
	if err != nil {
		return nil, nil, err
	}

	rootExtracted := false
	for _, path := range extractPaths {
		if value, ok := Get(valueTree, path); ok {
			extracted[path] = value
		}
		if IsRoot(path) {
			rootExtracted = true
		}
	}

	if rootExtracted || len(preservePaths) > 0 {
		fresh := make(map[string]any)
		for _, path := range preservePaths {
			if value, ok := Get(residualTree, path); ok {
				_ = Set(fresh, path, value)
			}
		}
		return extracted, fresh, nil
	}

	residualMap, ok := residualTree.(map[string]any)
	if !ok {
		// Non-map responses cannot have sub-paths deleted; with no root
		// extraction the residual stays as the cloned value.
		return extracted, residualTree, nil
	}
	for _, path := range extractPaths {
		_ = Delete(residualMap, path)
	}
	return extracted, residualMap, nil
}

// FirstRowKeys returns the key order of the first object element of the
// array addressed by path in raw JSON text. Decoded maps discard key order;
// this walks the source tokens instead. It returns nil when the path is
// missing, the value there is not an array, or the first element is not an
// object.
func FirstRowKeys(raw []byte, path string) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if !seekPath(dec, path) {
		return nil
	}

	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil
	}
	if !dec.More() {
		return nil
	}

	tok, err = dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil
		}
		keys = append(keys, key)
		if skipValue(dec) != nil {
			return nil
		}
	}
	return keys
}

// seekPath advances the decoder to the value addressed by path, skipping
// sibling keys without materializing them.
func seekPath(dec *json.Decoder, path string) bool {
	if IsRoot(path) {
		return true
	}

	for _, key := range splitPath(path) {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return false
		}

		found := false
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return false
			}
			name, ok := tok.(string)
			if !ok {
				return false
			}
			if name == key {
				found = true
				break
			}
			if skipValue(dec) != nil {
				return false
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// skipValue consumes one value from the token stream, balancing delimiters.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// DeepClone copies a JSON-like tree. Maps and slices are cloned
// recursively; scalars are returned as-is. Cyclic input is rejected.
func DeepClone(value any) (any, error) {
	return deepClone(value, "", make(map[uintptr]bool))
}

func deepClone(value any, path string, seen map[uintptr]bool) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(v).Pointer()
		if seen[ptr] {
			return nil, &CyclicValueError{Path: path}
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, len(v))
		for key, item := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			cloned, err := deepClone(item, childPath, seen)
			if err != nil {
				return nil, err
			}
			out[key] = cloned
		}
		return out, nil

	case []any:
		if len(v) > 0 {
			ptr := reflect.ValueOf(v).Pointer()
			if seen[ptr] {
				return nil, &CyclicValueError{Path: path}
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}

		out := make([]any, len(v))
		for i, item := range v {
			cloned, err := deepClone(item, fmt.Sprintf("%s[%d]", path, i), seen)
			if err != nil {
				return nil, err
			}
			out[i] = cloned
		}
		return out, nil

	default:
		return v, nil
	}
}
