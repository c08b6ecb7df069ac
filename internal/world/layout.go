// Initial policy layouts.
// A layout assigns every cell an index into the configured policy list.
package world

import (
	"fmt"
	"math"
	"math/rand/v2"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Layout selects how initial policies are placed.
type Layout uint8

const (
	LayoutStripes Layout = iota // (x+y) mod k, diagonal stripes; checkerboard for k=2
	LayoutRandom                // Uniform draw per cell
	LayoutCorners               // Base policy everywhere, the others in the four corners
	LayoutPatches               // Contiguous blocks from simplex noise
)

var layoutNames = [...]string{"stripes", "random", "corners", "patches"}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

// ParseLayout maps a configuration name to a Layout.
func ParseLayout(s string) (Layout, error) {
	for i, name := range layoutNames {
		if name == s {
			return Layout(i), nil
		}
	}
	return 0, fmt.Errorf("unknown layout %q (valid: stripes, random, corners, patches)", s)
}

func (l Layout) MarshalText() ([]byte, error) {
	if int(l) >= len(layoutNames) {
		return nil, fmt.Errorf("unknown layout %d", uint8(l))
	}
	return []byte(layoutNames[l]), nil
}

func (l *Layout) UnmarshalText(text []byte) error {
	parsed, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Valid reports whether l is a known layout.
func (l Layout) Valid() bool {
	return int(l) < len(layoutNames)
}

// PatchScale is the noise frequency of the patches layout; lower values give
// larger blocks.
const PatchScale = 0.12

// Assign returns a policy index for every cell in row-major order. base is
// the index of the corners layout's background policy. rng is only read by
// the random layout; seed only by the patches layout.
func (l Lattice) Assign(layout Layout, numPolicies, base int, seed int64, rng *rand.Rand) ([]int, error) {
	if numPolicies <= 0 {
		return nil, fmt.Errorf("assign %s: no policies", layout)
	}
	out := make([]int, l.Len())

	switch layout {
	case LayoutStripes:
		for i := range out {
			c := l.CoordOf(i)
			out[i] = (c.X + c.Y) % numPolicies
		}

	case LayoutRandom:
		for i := range out {
			out[i] = rng.IntN(numPolicies)
		}

	case LayoutCorners:
		if base < 0 || base >= numPolicies {
			base = 0
		}
		for i := range out {
			out[i] = base
		}
		var others []int
		for p := 0; p < numPolicies; p++ {
			if p != base {
				others = append(others, p)
			}
		}
		if len(others) == 0 {
			break
		}
		n := l.Size - 1
		corners := []Coord{{0, 0}, {n, 0}, {0, n}, {n, n}}
		for j, c := range corners {
			out[l.Index(c)] = others[j%len(others)]
		}

	case LayoutPatches:
		noise := opensimplex.NewNormalized(seed)
		for i := range out {
			c := l.CoordOf(i)
			v := noise.Eval2(float64(c.X)*PatchScale, float64(c.Y)*PatchScale)
			bucket := int(math.Floor(v * float64(numPolicies)))
			out[i] = min(max(bucket, 0), numPolicies-1)
		}

	default:
		return nil, fmt.Errorf("unknown layout %d", uint8(layout))
	}
	return out, nil
}
