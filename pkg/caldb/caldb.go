// Package caldb is a calibration database: product documents (responses,
// spectra and model fluxes) stored by instrument, kind and name.
//
// Records live under the key {instrument, kind, name} and hold the document
// encoded as msgpack. The DB runs on any Backend; Badger is the persistent
// one, Memory serves tests and scratch sessions.
package caldb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/xfold/pkg/product"
	"github.com/haivivi/xfold/pkg/response"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no record exists under a key.
	ErrNotFound = errors.New("caldb: not found")

	// ErrBadKey is returned for empty key segments or segments containing ':'.
	ErrBadKey = errors.New("caldb: bad key")
)

// Record is a stored document with its metadata.
type Record struct {
	ID         uuid.UUID          `msgpack:"id" json:"id" yaml:"id"`
	Instrument string             `msgpack:"instrument" json:"instrument" yaml:"instrument"`
	Kind       string             `msgpack:"kind" json:"kind" yaml:"kind"`
	Name       string             `msgpack:"name" json:"name" yaml:"name"`
	Created    time.Time          `msgpack:"created" json:"created" yaml:"created"`
	Updated    time.Time          `msgpack:"updated" json:"updated" yaml:"updated"`
	Document   msgpack.RawMessage `msgpack:"doc" json:"-" yaml:"-"`
}

// Key returns the record's storage key.
func (r *Record) Key() Key { return Key{r.Instrument, r.Kind, r.Name} }

// Decode returns the stored *product.Response, *product.Spectrum or
// *product.Flux.
func (r *Record) Decode() (any, error) {
	v, err := product.DecodeAny(r.Document, product.Msgpack)
	if err != nil {
		return nil, fmt.Errorf("caldb: %s: %w", r.Key(), err)
	}
	return v, nil
}

// Options configures Open.
type Options struct {
	// Dir is the Badger data directory. Empty selects InMemory.
	Dir string

	// InMemory runs Badger without persistence.
	InMemory bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DB stores records on a Backend.
type DB struct {
	be     Backend
	logger *slog.Logger
	now    func() time.Time
}

// Open opens a Badger-backed DB.
func Open(opts Options) (*DB, error) {
	be, err := NewBadger(BadgerOptions{
		Dir:      opts.Dir,
		InMemory: opts.InMemory || opts.Dir == "",
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return New(be, opts.Logger), nil
}

// New returns a DB over be. A nil logger means slog.Default().
func New(be Backend, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{be: be, logger: logger, now: time.Now}
}

// Close closes the backend.
func (db *DB) Close() error { return db.be.Close() }

// Put stores doc under instrument and the document's kind and name. An
// empty instrument falls back to the document's own. Replacing a record
// keeps its ID and creation time.
func (db *DB) Put(ctx context.Context, instrument string, doc any) (*Record, error) {
	kind, name, docInstrument, doc, err := describe(doc)
	if err != nil {
		return nil, err
	}
	if instrument == "" {
		instrument = docInstrument
	}
	key := Key{instrument, kind, name}
	if err := checkKey(key); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := product.Encode(&buf, product.Msgpack, doc); err != nil {
		return nil, fmt.Errorf("caldb: encode %s: %w", key, err)
	}
	now := db.now().UTC()
	rec := &Record{
		ID:         uuid.New(),
		Instrument: instrument,
		Kind:       kind,
		Name:       name,
		Created:    now,
		Updated:    now,
		Document:   buf.Bytes(),
	}
	switch old, err := db.get(ctx, key); {
	case err == nil:
		rec.ID, rec.Created = old.ID, old.Created
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	val, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("caldb: marshal %s: %w", key, err)
	}
	if err := db.be.Set(ctx, key, val); err != nil {
		return nil, fmt.Errorf("caldb: put %s: %w", key, err)
	}
	db.logger.Debug("caldb put", "key", key.String(), "id", rec.ID, "bytes", len(val))
	return rec, nil
}

// Get returns the record under instrument, kind and name.
func (db *DB) Get(ctx context.Context, instrument, kind, name string) (*Record, error) {
	key := Key{instrument, kind, name}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return db.get(ctx, key)
}

func (db *DB) get(ctx context.Context, key Key) (*Record, error) {
	val, err := db.be.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("caldb: unmarshal %s: %w", key, err)
	}
	return &rec, nil
}

// Response loads and builds a stored response matrix.
func (db *DB) Response(ctx context.Context, instrument, name string) (*response.Matrix, error) {
	rec, err := db.Get(ctx, instrument, product.KindResponse, name)
	if err != nil {
		return nil, err
	}
	v, err := rec.Decode()
	if err != nil {
		return nil, err
	}
	return v.(*product.Response).Matrix()
}

// Delete removes a record; deleting a missing record succeeds.
func (db *DB) Delete(ctx context.Context, instrument, kind, name string) error {
	key := Key{instrument, kind, name}
	if err := checkKey(key); err != nil {
		return err
	}
	return db.be.Delete(ctx, key)
}

// List returns the records of an instrument, optionally restricted to one
// kind. An empty instrument lists everything. Documents are not decoded.
func (db *DB) List(ctx context.Context, instrument, kind string) ([]*Record, error) {
	var prefix Key
	if instrument != "" {
		prefix = Key{instrument}
		if kind != "" {
			prefix = append(prefix, kind)
		}
	}
	var out []*Record
	for e, err := range db.be.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("caldb: list %s: %w", prefix, err)
		}
		var rec Record
		if err := msgpack.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("caldb: unmarshal %s: %w", e.Key, err)
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// describe returns the identity of doc and a shallow copy with its kind
// field filled in.
func describe(doc any) (kind, name, instrument string, out any, err error) {
	switch d := doc.(type) {
	case *product.Response:
		c := *d
		c.Kind = product.KindResponse
		return c.Kind, c.Name, c.Instrument, &c, nil
	case *product.Spectrum:
		c := *d
		c.Kind = product.KindSpectrum
		return c.Kind, c.Name, c.Instrument, &c, nil
	case *product.Flux:
		c := *d
		c.Kind = product.KindFlux
		return c.Kind, c.Name, "", &c, nil
	}
	return "", "", "", nil, fmt.Errorf("%w: %T", product.ErrUnknownKind, doc)
}

func checkKey(k Key) error {
	for _, seg := range k {
		if seg == "" || strings.ContainsRune(seg, ':') {
			return fmt.Errorf("%w: %q", ErrBadKey, k.String())
		}
	}
	return nil
}
