package spectrum

import (
	"fmt"

	"github.com/haivivi/xfold/pkg/response"
)

// Noticed returns the sorted indices of the channels included in the fit.
// The slice is owned by d and must not be modified.
func (d *Data) Noticed() []int { return d.indirect }

// IsNoticed reports whether channel index c is included in the fit.
func (d *Data) IsNoticed(c int) bool { return d.noticed[c] }

// NumNoticed returns the number of noticed channels.
func (d *Data) NumNoticed() int { return len(d.indirect) }

// Generation changes every time the notice state changes.
func (d *Data) Generation() uint64 { return d.generation }

// NoticeAll includes every channel.
func (d *Data) NoticeAll() {
	d.noticed = make([]bool, len(d.Counts))
	for i := range d.noticed {
		d.noticed[i] = true
	}
	d.rebuild()
}

// Notice includes channels numbered lo..hi inclusive.
func (d *Data) Notice(lo, hi int) error { return d.setRange(lo, hi, true) }

// Ignore excludes channels numbered lo..hi inclusive.
func (d *Data) Ignore(lo, hi int) error { return d.setRange(lo, hi, false) }

func (d *Data) setRange(lo, hi int, on bool) error {
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi < d.StartChan || lo > d.EndChan() {
		return fmt.Errorf("%w: channels %d-%d outside %d-%d", ErrInvalid, lo, hi, d.StartChan, d.EndChan())
	}
	lo = max(lo, d.StartChan) - d.StartChan
	hi = min(hi, d.EndChan()) - d.StartChan
	for c := lo; c <= hi; c++ {
		d.noticed[c] = on
	}
	d.rebuild()
	return nil
}

// IgnoreBad excludes every channel whose quality flag is non-zero and
// returns how many were newly ignored.
func (d *Data) IgnoreBad() int {
	n := 0
	for c, q := range d.Quality {
		if q != 0 && d.noticed[c] {
			d.noticed[c] = false
			n++
		}
	}
	if n > 0 {
		d.rebuild()
	}
	return n
}

// NoticeEnergy sets the selection to the channels whose nominal energy
// range, taken from the response EBOUNDS, overlaps [lo, hi]. Channels
// outside the range are ignored. The response must have as many channels
// as d.
func (d *Data) NoticeEnergy(lo, hi float64, m *response.Matrix) error {
	if m.NumChannels() != len(d.Counts) {
		return fmt.Errorf("%w: response has %d channels, spectrum %d", ErrSizeMismatch, m.NumChannels(), len(d.Counts))
	}
	if !m.HasChannelBounds() {
		return response.ErrNoChannelBounds
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	for c := range d.noticed {
		clo, chi, _ := m.ChannelBounds(c)
		d.noticed[c] = chi > lo && clo < hi
	}
	d.rebuild()
	return nil
}

// SetNoticed replaces the selection with an explicit mask.
func (d *Data) SetNoticed(mask []bool) error {
	if len(mask) != len(d.Counts) {
		return fmt.Errorf("%w: mask has %d entries for %d channels", ErrSizeMismatch, len(mask), len(d.Counts))
	}
	copy(d.noticed, mask)
	d.rebuild()
	return nil
}

// rebuild derives the index list from the mask and bumps the generation.
func (d *Data) rebuild() {
	d.indirect = d.indirect[:0]
	for c, on := range d.noticed {
		if on {
			d.indirect = append(d.indirect, c)
		}
	}
	d.generation++
}
