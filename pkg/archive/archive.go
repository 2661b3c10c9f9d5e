// Package archive stores product files on local disk or in an S3 bucket and
// loads them as product documents.
//
// Paths are forward-slash separated and relative to the store root. A
// product's format follows from its extension (see product.FormatOf).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/haivivi/xfold/pkg/product"
)

// Store is a minimal file store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Read opens the named file. A missing file yields an error wrapping
	// os.ErrNotExist. The caller closes the reader.
	Read(ctx context.Context, name string) (io.ReadCloser, error)

	// Write creates or truncates the named file. Data is committed when the
	// writer is closed.
	Write(ctx context.Context, name string) (io.WriteCloser, error)

	// Delete removes the named file; deleting a missing file succeeds.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the names under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Load reads the named product and returns *product.Response,
// *product.Spectrum or *product.Flux.
func Load(ctx context.Context, s Store, name string) (any, error) {
	f, err := product.FormatOf(name)
	if err != nil {
		return nil, err
	}
	data, err := readAll(ctx, s, name)
	if err != nil {
		return nil, err
	}
	v, err := product.DecodeAny(data, f)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", name, err)
	}
	return v, nil
}

// LoadInto reads the named product into v.
func LoadInto(ctx context.Context, s Store, name string, v any) error {
	f, err := product.FormatOf(name)
	if err != nil {
		return err
	}
	data, err := readAll(ctx, s, name)
	if err != nil {
		return err
	}
	if err := product.Decode(bytes.NewReader(data), f, v); err != nil {
		return fmt.Errorf("archive: %s: %w", name, err)
	}
	return nil
}

// Save writes v as the named product.
func Save(ctx context.Context, s Store, name string, v any) (err error) {
	f, err := product.FormatOf(name)
	if err != nil {
		return err
	}
	w, err := s.Write(ctx, name)
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	defer func() {
		if cerr := w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("archive: write %s: %w", name, cerr)
		}
	}()
	if err := product.Encode(w, f, v); err != nil {
		return fmt.Errorf("archive: encode %s: %w", name, err)
	}
	return nil
}

// Resolve returns ref relative to the directory of the product named from.
// Spectrum documents use it to locate their background and response.
func Resolve(from, ref string) string {
	if ref == "" || path.IsAbs(ref) {
		return ref
	}
	return path.Join(path.Dir(from), ref)
}

func readAll(ctx context.Context, s Store, name string) ([]byte, error) {
	r, err := s.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", name, err)
	}
	return data, nil
}
