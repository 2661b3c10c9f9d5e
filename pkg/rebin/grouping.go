package rebin

import "fmt"

// Grouping flag values, per channel.
const (
	GroupStart    = 1  // channel begins a new group
	GroupContinue = -1 // channel joins the preceding group
)

// GroupingMap builds a channel-space Map that merges channels according to
// grouping flags. A channel flagged GroupContinue joins the group before it;
// GroupStart, or 0 for "no grouping information", starts a new group. The
// first channel always starts a group. Any other flag is rejected.
//
// The resulting map has integer edges on both sides, so every weight is
// exactly 1 and Rebin with it is a plain per-group sum.
func GroupingMap(grouping []int) (*Map, error) {
	n := len(grouping)
	if n == 0 {
		return nil, ErrTooFewEdges
	}
	dst := make(Edges, 0, n+1)
	for i, g := range grouping {
		switch g {
		case GroupStart, 0:
			dst = append(dst, float64(i))
		case GroupContinue:
			if i == 0 {
				dst = append(dst, 0)
			}
		default:
			return nil, fmt.Errorf("rebin: invalid grouping flag %d at channel %d", g, i)
		}
	}
	dst = append(dst, float64(n))
	return NewMap(Channels(n), dst, Fuzzy)
}

// Groups returns, for a grouping map, the first source channel and number
// of channels in every group.
func Groups(m *Map) (first, count []int) {
	n := m.Dst.Bins()
	first = make([]int, n)
	count = make([]int, n)
	for j := 0; j < n; j++ {
		first[j] = m.StartBin[j]
		count[j] = m.EndBin[j] - m.StartBin[j] + 1
	}
	return first, count
}
