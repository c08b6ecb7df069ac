package world

import (
	"math/rand/v2"
	"testing"
)

func TestNeighborsWithin(t *testing.T) {
	l := NewLattice(5)

	center := l.NeighborsWithin(Coord{2, 2}, 1)
	want := []Coord{{2, 1}, {1, 2}, {3, 2}, {2, 3}}
	if len(center) != len(want) {
		t.Fatalf("center neighbours = %v, want %v", center, want)
	}
	for i := range want {
		if center[i] != want[i] {
			t.Errorf("neighbour %d = %v, want %v (row-major order)", i, center[i], want[i])
		}
	}

	if got := len(l.NeighborsWithin(Coord{2, 2}, 2)); got != 12 {
		t.Errorf("radius-2 interior neighbourhood = %d cells, want 12", got)
	}
	if got := len(l.NeighborsWithin(Coord{0, 0}, 1)); got != 2 {
		t.Errorf("corner radius-1 neighbourhood = %d cells, want 2", got)
	}
	if got := len(l.NeighborsWithin(Coord{0, 2}, 1)); got != 3 {
		t.Errorf("edge radius-1 neighbourhood = %d cells, want 3", got)
	}
	if got := l.NeighborsWithin(Coord{9, 9}, 1); got != nil {
		t.Errorf("out-of-bounds cell has neighbours %v", got)
	}
}

func TestNeighborsSymmetricAndWithinRadius(t *testing.T) {
	l := NewLattice(7)
	for _, k := range []int{1, 2, 3} {
		sets := make([]map[int]bool, l.Len())
		for i := 0; i < l.Len(); i++ {
			sets[i] = map[int]bool{}
			for _, j := range l.NeighborIndices(i, k) {
				if j == i {
					t.Fatalf("cell %d lists itself", i)
				}
				if d := Manhattan(l.CoordOf(i), l.CoordOf(j)); d < 1 || d > k {
					t.Fatalf("cell %d neighbour %d at distance %d, radius %d", i, j, d, k)
				}
				sets[i][j] = true
			}
		}
		for i := range sets {
			for j := range sets[i] {
				if !sets[j][i] {
					t.Errorf("k=%d: %d lists %d but not vice versa", k, i, j)
				}
			}
		}
	}
}

func TestIndexRoundTrip(t *testing.T) {
	l := NewLattice(4)
	for i := 0; i < l.Len(); i++ {
		if got := l.Index(l.CoordOf(i)); got != i {
			t.Fatalf("Index(CoordOf(%d)) = %d", i, got)
		}
	}
	if l.Index(Coord{X: 1, Y: 2}) != 9 {
		t.Error("index must be row-major: y*size + x")
	}
}

func TestAssignStripesIsCheckerboardForTwo(t *testing.T) {
	l := NewLattice(2)
	got, err := l.Assign(LayoutStripes, 2, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stripes = %v, want %v", got, want)
		}
	}
}

func TestAssignCorners(t *testing.T) {
	l := NewLattice(4)
	got, err := l.Assign(LayoutCorners, 3, 1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[int]int{}
	for _, p := range got {
		counts[p]++
	}
	if counts[1] != 12 {
		t.Errorf("base policy holds %d cells, want 12", counts[1])
	}
	if got[l.Index(Coord{0, 0})] != 0 || got[l.Index(Coord{3, 0})] != 2 ||
		got[l.Index(Coord{0, 3})] != 0 || got[l.Index(Coord{3, 3})] != 2 {
		t.Errorf("corners not cycled through the other policies: %v", got)
	}
}

func TestAssignRandomAndPatchesAreDeterministic(t *testing.T) {
	l := NewLattice(12)
	for _, layout := range []Layout{LayoutRandom, LayoutPatches} {
		a, err := l.Assign(layout, 4, 0, 9, rand.New(rand.NewPCG(9, 9)))
		if err != nil {
			t.Fatal(err)
		}
		b, _ := l.Assign(layout, 4, 0, 9, rand.New(rand.NewPCG(9, 9)))
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s layout differs at %d between identical seeds", layout, i)
			}
			if a[i] < 0 || a[i] >= 4 {
				t.Fatalf("%s layout produced index %d", layout, a[i])
			}
		}
	}
}

func TestAssignRejectsEmptyPolicySet(t *testing.T) {
	if _, err := NewLattice(3).Assign(LayoutStripes, 0, 0, 0, nil); err == nil {
		t.Fatal("expected error for zero policies")
	}
}

func TestParseLayout(t *testing.T) {
	for _, name := range layoutNames {
		l, err := ParseLayout(name)
		if err != nil || l.String() != name {
			t.Errorf("ParseLayout(%q) = %v, %v", name, l, err)
		}
	}
	if _, err := ParseLayout("spiral"); err == nil {
		t.Error("expected error for unknown layout")
	}
}
