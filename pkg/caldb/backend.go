package caldb

import (
	"context"
	"iter"
	"strings"
)

// Key is a hierarchical record path such as {"xrt", "response", "pc"}.
// Segments are joined with ':' in storage and must not contain it.
type Key []string

func (k Key) String() string { return strings.Join(k, ":") }

func (k Key) encode() []byte { return []byte(k.String()) }

// prefix returns the encoded key followed by a separator so that {"a", "b"}
// does not match "a:bc". The empty key matches everything.
func (k Key) prefix() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.encode(), ':')
}

func decodeKey(b []byte) Key { return strings.Split(string(b), ":") }

// Entry is a raw key/value pair yielded by Backend.List.
type Entry struct {
	Key   Key
	Value []byte
}

// Backend is the byte-level store under a DB.
type Backend interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete succeeds for an absent key.
	Delete(ctx context.Context, key Key) error
	// List yields the entries under prefix in lexical key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	Close() error
}
