package entropy

import "testing"

func TestStreamIsReproducible(t *testing.T) {
	a := NewSource(42).Stream(PurposeDecide, 7, 13)
	b := NewSource(42).Stream(PurposeDecide, 7, 13)
	for i := 0; i < 100; i++ {
		if a.Uint64() != b.Uint64() {
			t.Fatalf("draw %d differs between identical streams", i)
		}
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	src := NewSource(42)
	first := src.Stream(PurposeDecide, 1, 0).Uint64()

	others := []uint64{
		src.Stream(PurposeDecide, 1, 1).Uint64(),
		src.Stream(PurposeDecide, 2, 0).Uint64(),
		src.Stream(PurposeAdapt, 1, 0).Uint64(),
		NewSource(43).Stream(PurposeDecide, 1, 0).Uint64(),
	}
	for i, v := range others {
		if v == first {
			t.Errorf("stream %d collided with the reference stream", i)
		}
	}
}

func TestZeroSeedIsReplaced(t *testing.T) {
	if NewSource(0).Seed() == 0 {
		t.Fatal("zero seed should be replaced by a clock seed")
	}
	if got := NewSource(5).Seed(); got != 5 {
		t.Fatalf("Seed() = %d, want 5", got)
	}
}
