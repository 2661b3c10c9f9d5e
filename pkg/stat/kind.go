package stat

import (
	"fmt"
	"strings"
)

// Kind selects a fit statistic.
type Kind int

const (
	// CStat is the Cash statistic for Poisson data. With a background it
	// becomes the W-statistic, profiling out the background rate.
	CStat Kind = iota
	// Chi is χ² using the data variance.
	Chi
)

var kindNames = [...]string{
	CStat: "cstat",
	Chi:   "chi",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind named s, case-insensitively. "chi2" and
// "wstat" are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cstat", "cash", "wstat":
		return CStat, nil
	case "chi", "chi2":
		return Chi, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Poisson reports whether the statistic assumes Poisson data.
func (k Kind) Poisson() bool { return k == CStat }
