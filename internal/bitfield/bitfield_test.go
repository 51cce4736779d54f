package bitfield

import "testing"

func TestNewSizeRounding(t *testing.T) {
	cases := []struct {
		nBits     int
		wantBytes int
	}{
		{0, 0},
		{1, 1},
		{7, 1},
		{8, 1},
		{9, 2},
		{16, 2},
		{17, 3},
	}

	for _, tc := range cases {
		bf := New(tc.nBits)
		if got := len(bf); got != tc.wantBytes {
			t.Fatalf("New(%d) bytes = %d; want %d", tc.nBits, got, tc.wantBytes)
		}
	}
}

func TestSetClearHasBounds(t *testing.T) {
	bf := New(10) // 2 bytes

	if bf.Has(-1) || bf.Has(100) {
		t.Fatalf("Has out-of-range should be false")
	}

	idxs := []int{0, 7, 8, 9}
	for _, i := range idxs {
		bf.Set(i)
	}
	for _, i := range idxs {
		if !bf.Has(i) {
			t.Fatalf("bit %d should be set", i)
		}
	}

	bf.Clear(7)
	if bf.Has(7) {
		t.Fatalf("bit 7 should be cleared")
	}

	// Out-of-range ops must not panic or affect valid bits.
	bf.Set(100)
	bf.Clear(-42)
	for _, i := range []int{0, 8, 9} {
		if !bf.Has(i) {
			t.Fatalf("bit %d unexpectedly cleared by OOB ops", i)
		}
	}
}

func TestFromBytesAndBytesAreCopies(t *testing.T) {
	src := []byte{0xFF, 0x00}
	bf := FromBytes(src)

	src[0] = 0x00
	if !bf.Equals(Bitfield{0xFF, 0x00}) {
		t.Fatalf("FromBytes must copy input")
	}

	out := bf.Bytes()
	out[1] = 0xAA
	if bf[1] != 0x00 {
		t.Fatalf("Bytes must return a copy, not alias")
	}
}

func TestStringMSBFirst(t *testing.T) {
	bf := FromBytes([]byte{0xA5, 0x01}) // 1010 0101 0000 0001
	want := "1010010100000001"
	if got := bf.String(); got != want {
		t.Fatalf("String() = %q; want %q", got, want)
	}
}

func TestSetAllClearAll(t *testing.T) {
	bf := New(12)
	bf.SetAll(12)
	for i := 0; i < 12; i++ {
		if !bf.Has(i) {
			t.Fatalf("bit %d should be set after SetAll", i)
		}
	}
	bf.ClearAll()
	for i := 0; i < 12; i++ {
		if bf.Has(i) {
			t.Fatalf("bit %d should be clear after ClearAll", i)
		}
	}
}

// TestSetAllLeavesTailZeroAndSatisfiesAllSet guards against SetAll
// blindly setting the padded tail bits of the final byte, which would make
// AllSet (which requires a zero tail) spuriously report false for any
// pieceCount not a multiple of 8 — the exact case HAVE_ALL/MarkSeeder hits
// for a typical torrent.
func TestSetAllLeavesTailZeroAndSatisfiesAllSet(t *testing.T) {
	const pieceCount = 10 // 2 bytes, 6 pad bits in the final byte
	bf := New(pieceCount)
	bf.SetAll(pieceCount)

	for i := pieceCount; i < bf.Len(); i++ {
		if bf.Has(i) {
			t.Fatalf("pad bit %d must stay zero after SetAll", i)
		}
	}
	if !bf.AllSet(pieceCount) {
		t.Fatalf("AllSet(%d) must be true after SetAll(%d)", pieceCount, pieceCount)
	}
}

func TestAllSetRequiresZeroTail(t *testing.T) {
	bf := New(10) // 2 bytes, 16 addressable bits, pieceCount 10
	for i := 0; i < 10; i++ {
		bf.Set(i)
	}
	if !bf.AllSet(10) {
		t.Fatalf("AllSet(10) = false; want true when first 10 bits set and tail zero")
	}

	bf.Set(11) // pollute a tail bit
	if bf.AllSet(10) {
		t.Fatalf("AllSet(10) = true; want false when tail bits are dirty")
	}
}

func TestExpectedByteLengthAndValidTailBits(t *testing.T) {
	if got := ExpectedByteLength(17); got != 3 {
		t.Fatalf("ExpectedByteLength(17) = %d; want 3", got)
	}

	bf := New(10)
	for i := 0; i < 10; i++ {
		bf.Set(i)
	}
	if !ValidTailBits(bf, 10) {
		t.Fatalf("ValidTailBits should be true with clean tail")
	}
	bf.Set(12)
	if ValidTailBits(bf, 10) {
		t.Fatalf("ValidTailBits should be false with dirty tail")
	}
}
