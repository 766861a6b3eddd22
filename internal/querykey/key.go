// Package querykey canonicalizes structured query keys into stable hash
// strings, and implements the prefix relation used to match queries by key.
package querykey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
)

// Key is an ordered sequence of primitive values (strings, numbers, bools,
// nil) and nested keys/maps. It is the structured identity of a Query.
type Key []any

// Hash is a stable string derived from a Key by canonical recursive
// serialization. Two keys produce the same Hash iff they are structurally
// equal; differently-typed primitives (1 vs "1") never collide.
type Hash string

// EncodingError is returned when a key contains a cycle or a value this
// codec has no canonical encoding for. It is always a programmer error:
// application code passed something that cannot identify a query.
type EncodingError struct {
	Value any
	Msg   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("querykey: cannot encode %#v: %s", e.Value, e.Msg)
}

// HashOf canonicalizes key and returns its stable hash.
func HashOf(key Key) (Hash, error) {
	var buf []byte
	buf, err := encodeValue(buf, []any(key), make(map[uintptr]bool))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return Hash(hex.EncodeToString(sum[:])), nil
}

// MustHashOf is HashOf but panics on error. Only safe for keys known to be
// encodable at compile time (constant keys in demos/tests).
func MustHashOf(key Key) Hash {
	h, err := HashOf(key)
	if err != nil {
		panic(err)
	}
	return h
}

// IsPrefix reports whether a is a prefix of b: a's elements equal b's first
// len(a) elements, using the same structural equality the encoder uses.
func IsPrefix(a, b Key) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		ea, err := encodeValue(nil, a[i], make(map[uintptr]bool))
		if err != nil {
			return false
		}
		eb, err := encodeValue(nil, b[i], make(map[uintptr]bool))
		if err != nil {
			return false
		}
		if string(ea) != string(eb) {
			return false
		}
	}
	return true
}

// encodeValue recursively appends a type-tagged canonical encoding of v to
// buf. seen tracks the backing pointer of every []any/map[string]any
// currently on the recursion stack (marked on entry, unmarked on return) so
// a genuine cycle is rejected while a DAG — the same slice/map reachable
// through two different sibling paths — is not (spec.md §4.1: cyclic keys
// must fail with EncodingError, not overflow the stack).
func encodeValue(buf []byte, v any, seen map[uintptr]bool) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "n:"...), nil
	case string:
		return append(append(buf, "s:"...), t...), nil
	case bool:
		if t {
			return append(buf, "b:1"...), nil
		}
		return append(buf, "b:0"...), nil
	case int:
		return append(buf, fmt.Sprintf("i:%d", t)...), nil
	case int64:
		return append(buf, fmt.Sprintf("i:%d", t)...), nil
	case float64:
		return append(buf, fmt.Sprintf("f:%g", t)...), nil
	case []any:
		if len(t) > 0 {
			ptr := reflect.ValueOf(t).Pointer()
			if seen[ptr] {
				return nil, &EncodingError{Value: v, Msg: "cyclic key: slice contains itself"}
			}
			if seen != nil {
				seen[ptr] = true
				defer delete(seen, ptr)
			}
		}
		buf = append(buf, "a:["...)
		for i, elem := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = encodeValue(buf, elem, seen)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]any:
		if len(t) > 0 {
			ptr := reflect.ValueOf(t).Pointer()
			if seen[ptr] {
				return nil, &EncodingError{Value: v, Msg: "cyclic key: map contains itself"}
			}
			if seen != nil {
				seen[ptr] = true
				defer delete(seen, ptr)
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, "m:{"...)
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(append(buf, "s:"...), k...)
			buf = append(buf, ':')
			var err error
			buf, err = encodeValue(buf, t[k], seen)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	case Key:
		return encodeValue(buf, []any(t), seen)
	default:
		return nil, &EncodingError{Value: v, Msg: "unsupported query key element type"}
	}
}
