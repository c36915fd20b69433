package x86

import "testing"

func TestLevelShift(t *testing.T) {
	cases := []struct {
		l    Level
		want uint
	}{
		{PGD, 39},
		{PUD, 30},
		{PMD, 21},
		{PTE, 12},
	}
	for _, c := range cases {
		if got := c.l.shift(); got != c.want {
			t.Errorf("%v.shift() = %d, want %d", c.l, got, c.want)
		}
	}
}

func TestLevelIndexExtractsNineBits(t *testing.T) {
	// A canonical address with a distinct 9-bit pattern at every level:
	// pml4=1, pdpt=2, pd=3, pt=4.
	va := uintptr(1)<<39 | uintptr(2)<<30 | uintptr(3)<<21 | uintptr(4)<<12

	cases := []struct {
		l    Level
		want int
	}{
		{PGD, 1},
		{PUD, 2},
		{PMD, 3},
		{PTE, 4},
	}
	for _, c := range cases {
		if got := c.l.index(va); got != c.want {
			t.Errorf("%v.index(%#x) = %d, want %d", c.l, va, got, c.want)
		}
	}
}

func TestLevelIndexMasksToNineBits(t *testing.T) {
	va := uintptr(0x1ff) << 12
	if got := PTE.index(va); got != 0x1ff {
		t.Errorf("PTE.index with all 9 bits set = %#x, want 0x1ff", got)
	}
	va = uintptr(0x3ff) << 12 // one bit beyond the 9-bit field
	if got := PTE.index(va); got != 0x1ff {
		t.Errorf("PTE.index must mask to 9 bits, got %#x", got)
	}
}
