package bencode

import (
	"bytes"
	"fmt"
	"io"
	"sort"
)

// Encode writes v's bencode representation to w. Maps are always emitted
// with keys in byte-lexicographic order, which is what makes info_hash
// reproducible across implementations.
func Encode(w io.Writer, v Value) error {
	switch v.Kind {
	case KindInt:
		_, err := fmt.Fprintf(w, "i%de", v.Int)
		return err
	case KindBytes:
		if _, err := fmt.Fprintf(w, "%d:", len(v.Bytes)); err != nil {
			return err
		}
		_, err := w.Write(v.Bytes)
		return err
	case KindList:
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for _, item := range v.List {
			if err := Encode(w, item); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	case KindMap:
		if _, err := io.WriteString(w, "d"); err != nil {
			return err
		}
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := Encode(w, Value{Kind: KindBytes, Bytes: []byte(k)}); err != nil {
				return err
			}
			if err := Encode(w, v.Map[k]); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	default:
		return fmt.Errorf("bencode: cannot encode invalid Value")
	}
}

// Marshal returns v's bencode representation as bytes.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String builds a KindBytes Value from a Go string.
func String(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// Int builds a KindInt Value.
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

// List builds a KindList Value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Map builds a KindMap Value from a key/value set.
func Map(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Value{Kind: KindMap, Map: m, keys: keys}
}
