// Package version models migration versions: arbitrary-length sequences of
// non-negative integers such as 1, 1.2 or 2.2014.09.11.55.45613.
package version

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidFormat = errors.New("invalid version format")

type kind int8

const (
	kindEmpty kind = iota
	kindNormal
	kindCurrent
	kindLatest
)

// Version is immutable. The zero value is Empty.
type Version struct {
	kind  kind
	parts []*big.Int
}

var (
	// Empty sorts below every real version.
	Empty = Version{kind: kindEmpty}
	// Latest sorts above every real version and is the default target.
	Latest = Version{kind: kindLatest}
	// Current stands for whatever is applied; it is resolved when infos are refreshed.
	Current = Version{kind: kindCurrent}
)

// Parse accepts dotted or underscored numeric versions. Trailing zero
// components are dropped, so "1.0.0", "1_0" and "1" are the same version.
// "latest" and "current" (any case) map to the sentinels.
func Parse(text string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "latest":
		return Latest, nil
	case "current":
		return Current, nil
	}
	normalized := strings.ReplaceAll(text, "_", ".")
	tokens := strings.Split(normalized, ".")
	parts := make([]*big.Int, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" || strings.TrimLeft(tok, "0123456789") != "" {
			return Empty, fmt.Errorf("%w: only 0..9 and . are allowed, got %q", ErrInvalidFormat, text)
		}
		n, ok := new(big.Int).SetString(tok, 10)
		if !ok {
			return Empty, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
		}
		parts = append(parts, n)
	}
	for len(parts) > 1 && parts[len(parts)-1].Sign() == 0 {
		parts = parts[:len(parts)-1]
	}
	return Version{kind: kindNormal, parts: parts}, nil
}

// MustParse is Parse for literals in code and tests.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) IsEmpty() bool   { return v.kind == kindEmpty }
func (v Version) IsLatest() bool  { return v.kind == kindLatest }
func (v Version) IsCurrent() bool { return v.kind == kindCurrent }

// IsNormal reports whether v is a real numeric version rather than a sentinel.
func (v Version) IsNormal() bool { return v.kind == kindNormal }

// Compare returns -1, 0 or 1. The shorter sequence is padded with zeros.
func (v Version) Compare(o Version) int {
	if v.kind != kindNormal || o.kind != kindNormal {
		switch {
		case v.kind < o.kind:
			return -1
		case v.kind > o.kind:
			return 1
		default:
			return 0
		}
	}
	n := len(v.parts)
	if len(o.parts) > n {
		n = len(o.parts)
	}
	zero := big.NewInt(0)
	for i := 0; i < n; i++ {
		a, b := zero, zero
		if i < len(v.parts) {
			a = v.parts[i]
		}
		if i < len(o.parts) {
			b = o.parts[i]
		}
		if c := a.Cmp(b); c != 0 {
			return c
		}
	}
	return 0
}

func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Compare is the free-function form, handy for slices.SortFunc.
func Compare(a, b Version) int { return a.Compare(b) }

// Major returns the first component, or nil for sentinels.
func (v Version) Major() *big.Int {
	if v.kind != kindNormal {
		return nil
	}
	return new(big.Int).Set(v.parts[0])
}

// String renders the canonical form; this is also the stored form.
func (v Version) String() string {
	switch v.kind {
	case kindEmpty:
		return "<< Empty Schema >>"
	case kindLatest:
		return "<< Latest Version >>"
	case kindCurrent:
		return "<< Current Version >>"
	}
	s := make([]string, len(v.parts))
	for i, p := range v.parts {
		s[i] = p.String()
	}
	return strings.Join(s, ".")
}
