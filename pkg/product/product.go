// Package product reads and writes the data products consumed by the
// folding core: responses, spectra and model fluxes.
//
// A product file is a document with a "kind" field, encoded as YAML, JSON
// or msgpack. The format is chosen from the file extension. Numeric arrays
// may use the compact forms of [Array].
package product

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Sentinel errors.
var (
	// ErrUnknownFormat is returned for unrecognised file extensions.
	ErrUnknownFormat = errors.New("product: unknown format")

	// ErrUnknownKind is returned for documents with an unrecognised kind.
	ErrUnknownKind = errors.New("product: unknown kind")

	// ErrArrayTooLong is returned for compact arrays longer than
	// MaxArrayLen.
	ErrArrayTooLong = errors.New("product: compact array too long")
)

// Format is a product encoding.
type Format int

const (
	YAML Format = iota
	JSON
	Msgpack
)

func (f Format) String() string {
	switch f {
	case YAML:
		return "yaml"
	case JSON:
		return "json"
	case Msgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatOf returns the format implied by the extension of name.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	case ".msgpack", ".mpk":
		return Msgpack, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Document kinds.
const (
	KindResponse = "response"
	KindSpectrum = "spectrum"
	KindFlux     = "flux"
)

// Kinds lists the document kinds in a stable order.
var Kinds = []string{KindResponse, KindSpectrum, KindFlux}

type header struct {
	Kind string `json:"kind" yaml:"kind" msgpack:"kind"`
}

// Decode reads one document of format f into v.
func Decode(r io.Reader, f Format, v any) error {
	switch f {
	case YAML:
		return yaml.NewDecoder(r).Decode(v)
	case JSON:
		return json.NewDecoder(r).Decode(v)
	case Msgpack:
		return msgpack.NewDecoder(r).Decode(v)
	}
	return fmt.Errorf("%w: %v", ErrUnknownFormat, f)
}

// Encode writes v to w in format f.
func Encode(w io.Writer, f Format, v any) error {
	switch f {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case Msgpack:
		return msgpack.NewEncoder(w).Encode(v)
	}
	return fmt.Errorf("%w: %v", ErrUnknownFormat, f)
}

// DecodeAny reads a document of any kind and returns *Response, *Spectrum
// or *Flux.
func DecodeAny(data []byte, f Format) (any, error) {
	var h header
	if err := Decode(bytes.NewReader(data), f, &h); err != nil {
		return nil, fmt.Errorf("product: decode header: %w", err)
	}
	var v any
	switch h.Kind {
	case KindResponse:
		v = &Response{}
	case KindSpectrum:
		v = &Spectrum{}
	case KindFlux:
		v = &Flux{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, h.Kind)
	}
	if err := Decode(bytes.NewReader(data), f, v); err != nil {
		return nil, fmt.Errorf("product: decode %s: %w", h.Kind, err)
	}
	return v, nil
}

// checkKind verifies a decoded document's kind; an empty kind is accepted.
func checkKind(got, want string) error {
	if got != "" && got != want {
		return fmt.Errorf("%w: document is %q, want %q", ErrUnknownKind, got, want)
	}
	return nil
}
