package product

import (
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema returns the JSON Schema of the document kind. Arrays are described
// as plain number lists; the compact forms are an input convenience.
func Schema(kind string) (*jsonschema.Schema, error) {
	opts := &jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[Array](): {Type: "array", Items: &jsonschema.Schema{Type: "number"}},
		},
	}
	var (
		s   *jsonschema.Schema
		err error
	)
	switch kind {
	case KindResponse:
		s, err = jsonschema.For[Response](opts)
	case KindSpectrum:
		s, err = jsonschema.For[Spectrum](opts)
	case KindFlux:
		s, err = jsonschema.For[Flux](opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("product: schema %s: %w", kind, err)
	}
	s.Title = kind
	return s, nil
}
