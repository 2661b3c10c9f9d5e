package product

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
	"gopkg.in/yaml.v3"
)

// Array is a list of numbers. Besides a plain list, files may write it in
// one of two compact forms:
//
//	{fill: 1, n: 1024}                  1024 copies of 1
//	{start: 0.1, stop: 10, num: 991}    991 evenly spaced values, both ends included
type Array []float64

// MaxArrayLen is the longest array the compact forms may expand to.
const MaxArrayLen = 1 << 24

// arraySpec is the compact form of an Array.
type arraySpec struct {
	Fill  *float64 `json:"fill" yaml:"fill" msgpack:"fill"`
	N     int      `json:"n" yaml:"n" msgpack:"n"`
	Start *float64 `json:"start" yaml:"start" msgpack:"start"`
	Stop  *float64 `json:"stop" yaml:"stop" msgpack:"stop"`
	Num   int      `json:"num" yaml:"num" msgpack:"num"`
}

func (s arraySpec) expand() (Array, error) {
	switch {
	case s.Fill != nil && s.Start == nil:
		if s.N <= 0 {
			return nil, fmt.Errorf("product: fill array needs n > 0, got %d", s.N)
		}
		if s.N > MaxArrayLen {
			return nil, fmt.Errorf("%w: n = %d, max %d", ErrArrayTooLong, s.N, MaxArrayLen)
		}
		a := make(Array, s.N)
		for i := range a {
			a[i] = *s.Fill
		}
		return a, nil
	case s.Start != nil && s.Stop != nil && s.Fill == nil:
		if s.Num < 2 {
			return nil, fmt.Errorf("product: range array needs num >= 2, got %d", s.Num)
		}
		if s.Num > MaxArrayLen {
			return nil, fmt.Errorf("%w: num = %d, max %d", ErrArrayTooLong, s.Num, MaxArrayLen)
		}
		a := make(Array, s.Num)
		step := (*s.Stop - *s.Start) / float64(s.Num-1)
		for i := range a {
			a[i] = *s.Start + float64(i)*step
		}
		a[s.Num-1] = *s.Stop
		return a, nil
	}
	return nil, fmt.Errorf("product: compact array needs either fill and n or start, stop and num")
}

// UnmarshalJSON accepts a list or a compact object.
func (a *Array) UnmarshalJSON(data []byte) error {
	if b := bytes.TrimSpace(data); len(b) > 0 && b[0] == '{' {
		var s arraySpec
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := s.expand()
		if err != nil {
			return err
		}
		*a = v
		return nil
	}
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalYAML accepts a sequence or a compact mapping.
func (a *Array) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var s arraySpec
		if err := node.Decode(&s); err != nil {
			return err
		}
		v, err := s.expand()
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*a = v
		return nil
	}
	var v []float64
	if err := node.Decode(&v); err != nil {
		return err
	}
	*a = v
	return nil
}

// EncodeMsgpack writes the array as a plain list.
func (a Array) EncodeMsgpack(enc *msgpack.Encoder) error {
	if a == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeArrayLen(len(a)); err != nil {
		return err
	}
	for _, v := range a {
		if err := enc.EncodeFloat64(v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack accepts a list or a compact map.
func (a *Array) DecodeMsgpack(dec *msgpack.Decoder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32 {
		var s arraySpec
		if err := dec.Decode(&s); err != nil {
			return err
		}
		v, err := s.expand()
		if err != nil {
			return err
		}
		*a = v
		return nil
	}
	var v []float64
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*a = v
	return nil
}
