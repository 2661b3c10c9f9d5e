package product

import (
	"fmt"

	"github.com/haivivi/xfold/pkg/response"
)

// Response is a redistribution matrix document. Rows follow the grouped
// layout of OGIP response files: row e lists the first channel and width of
// each group and the concatenated group elements.
type Response struct {
	Kind       string `json:"kind" yaml:"kind" msgpack:"kind"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty" msgpack:"name,omitempty"`
	Instrument string `json:"instrument,omitempty" yaml:"instrument,omitempty" msgpack:"instrument,omitempty"`

	NumChannels  int `json:"num_channels" yaml:"num_channels" msgpack:"num_channels"`
	FirstChannel int `json:"first_channel" yaml:"first_channel" msgpack:"first_channel"`

	EnergyLow   Array `json:"energy_low" yaml:"energy_low" msgpack:"energy_low"`
	EnergyHigh  Array `json:"energy_high" yaml:"energy_high" msgpack:"energy_high"`
	ChannelLow  Array `json:"channel_low,omitempty" yaml:"channel_low,omitempty" msgpack:"channel_low,omitempty"`
	ChannelHigh Array `json:"channel_high,omitempty" yaml:"channel_high,omitempty" msgpack:"channel_high,omitempty"`

	Rows []Row `json:"rows" yaml:"rows" msgpack:"rows"`

	// Area is an optional effective-area curve merged into the matrix on
	// load.
	Area Array `json:"area,omitempty" yaml:"area,omitempty" msgpack:"area,omitempty"`

	AreaScaling float64 `json:"area_scaling,omitempty" yaml:"area_scaling,omitempty" msgpack:"area_scaling,omitempty"`
	Threshold   float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" msgpack:"threshold,omitempty"`
}

// Row is one energy bin of a Response.
type Row struct {
	FirstChan []int `json:"f_chan,omitempty" yaml:"f_chan,omitempty,flow" msgpack:"f_chan,omitempty"`
	NumChan   []int `json:"n_chan,omitempty" yaml:"n_chan,omitempty,flow" msgpack:"n_chan,omitempty"`
	Matrix    Array `json:"matrix,omitempty" yaml:"matrix,omitempty,flow" msgpack:"matrix,omitempty"`
}

// Matrix validates the document and builds the matrix, merging Area if
// present.
func (r *Response) Matrix() (*response.Matrix, error) {
	if err := checkKind(r.Kind, KindResponse); err != nil {
		return nil, err
	}
	if len(r.Rows) != len(r.EnergyLow) {
		return nil, fmt.Errorf("product: response %s: %w: %d rows for %d energy bins",
			r.Name, response.ErrMalformed, len(r.Rows), len(r.EnergyLow))
	}
	l := response.Layout{
		NumChannels:  r.NumChannels,
		FirstChannel: r.FirstChannel,
		EnergyLow:    r.EnergyLow,
		EnergyHigh:   r.EnergyHigh,
		ChannelLow:   r.ChannelLow,
		ChannelHigh:  r.ChannelHigh,
		NumGroups:    make([]int, len(r.Rows)),
		AreaScaling:  r.AreaScaling,
		Threshold:    r.Threshold,
	}
	for e, row := range r.Rows {
		if len(row.FirstChan) != len(row.NumChan) {
			return nil, fmt.Errorf("product: response %s row %d: %w: %d first channels, %d widths",
				r.Name, e, response.ErrMalformed, len(row.FirstChan), len(row.NumChan))
		}
		l.NumGroups[e] = len(row.FirstChan)
		l.GroupFirst = append(l.GroupFirst, row.FirstChan...)
		l.GroupCount = append(l.GroupCount, row.NumChan...)
		l.Elements = append(l.Elements, row.Matrix...)
	}
	m, err := response.New(l)
	if err != nil {
		return nil, fmt.Errorf("product: response %s: %w", r.Name, err)
	}
	if r.Area != nil {
		if err := m.MultiplyArea(r.Area); err != nil {
			return nil, fmt.Errorf("product: response %s area: %w", r.Name, err)
		}
	}
	return m, nil
}

// FromMatrix returns the document describing m.
func FromMatrix(name, instrument string, m *response.Matrix) *Response {
	l := m.Layout()
	r := &Response{
		Kind:         KindResponse,
		Name:         name,
		Instrument:   instrument,
		NumChannels:  l.NumChannels,
		FirstChannel: l.FirstChannel,
		EnergyLow:    l.EnergyLow,
		EnergyHigh:   l.EnergyHigh,
		ChannelLow:   l.ChannelLow,
		ChannelHigh:  l.ChannelHigh,
		Rows:         make([]Row, len(l.NumGroups)),
		AreaScaling:  l.AreaScaling,
		Threshold:    l.Threshold,
	}
	g, off := 0, 0
	for e, n := range l.NumGroups {
		row := &r.Rows[e]
		row.FirstChan = l.GroupFirst[g : g+n]
		row.NumChan = l.GroupCount[g : g+n]
		width := 0
		for _, c := range row.NumChan {
			width += c
		}
		row.Matrix = l.Elements[off : off+width]
		g += n
		off += width
	}
	return r
}
