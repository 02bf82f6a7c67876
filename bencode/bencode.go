// Package bencode implements the bencode encoding used by torrent
// metainfo files: integers, byte strings, ordered maps and lists.
package bencode

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformed is the sentinel cause wrapped by every decode failure.
var ErrMalformed = errors.New("bencode: malformed input")

// Kind identifies which of the four bencode types a Value holds.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindMap
)

// Value is a tagged variant over the four bencode types, used by callers
// that need the raw decoded tree (e.g. to re-encode the "info" dict for
// hashing) instead of unmarshalling into a Go struct.
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []Value
	Map   map[string]Value
	// keys holds a map's key set in sorted order, as filled in by Map and
	// Decode. Encode does not read it: it sorts the keys of Map itself on
	// every call.
	keys []string
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.Int)
	case KindBytes:
		return fmt.Sprintf("Bytes(%q)", v.Bytes)
	case KindList:
		return fmt.Sprintf("List(%d)", len(v.List))
	case KindMap:
		return fmt.Sprintf("Map(%d)", len(v.Map))
	default:
		return "Invalid"
	}
}

// Get returns the value for key in a KindMap Value, or the zero Value and
// false if absent or v is not a map.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	val, ok := v.Map[key]
	return val, ok
}
