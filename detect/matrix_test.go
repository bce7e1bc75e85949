package detect

import "testing"

func TestMatrixCodeRoundTrip(t *testing.T) {
	// uncorrected grids (raw, parity) are only rotation-canonical for some
	// ids; these are chosen to round-trip exactly
	cases := map[MatrixCodeType]uint64{
		Matrix3x3Parity:  21,
		Matrix3x3Hamming: 17,
		Matrix4x4:        997,
		Matrix4x4BCH139:  300,
		Matrix4x4BCH135:  22,
	}
	for code, id := range cases {
		cells, err := EncodeMatrixCells(id, code)
		if err != nil {
			t.Fatalf("%v: EncodeMatrixCells failed: %v", code, err)
		}
		got, rot, corrected, ok := DecodeMatrixCells(cells, code)
		if !ok {
			t.Fatalf("%v: decode failed", code)
		}
		if got != id {
			t.Errorf("%v: got id %d, want %d", code, got, id)
		}
		if rot != 0 {
			t.Errorf("%v: got rotation %d for an unrotated grid", code, rot)
		}
		if corrected != 0 {
			t.Errorf("%v: got %d corrected errors on clean cells", code, corrected)
		}
	}
}

func TestMatrixDecodeUnderRotation(t *testing.T) {
	for _, code := range []MatrixCodeType{Matrix3x3Hamming, Matrix4x4BCH139, Matrix4x4BCH135} {
		cells, err := EncodeMatrixCells(9, code)
		if err != nil {
			t.Fatalf("%v: EncodeMatrixCells failed: %v", code, err)
		}
		rotated := cells
		for turns := 1; turns <= 3; turns++ {
			rotated = rotateGrid(rotated, code.GridSize())
			id, rot, _, ok := DecodeMatrixCells(rotated, code)
			if !ok {
				t.Fatalf("%v: decode failed after %d turns", code, turns)
			}
			if id != 9 {
				t.Errorf("%v after %d turns: got id %d, want 9", code, turns, id)
			}
			if (turns+rot)%4 != 0 {
				t.Errorf("%v after %d turns: rotation %d does not undo the turns", code, turns, rot)
			}
		}
	}
}

func TestRawMatrixCanonicalizesOverRotations(t *testing.T) {
	cells, err := EncodeMatrixCells(256, Matrix3x3) // single corner cell set
	if err != nil {
		t.Fatalf("EncodeMatrixCells failed: %v", err)
	}
	id, _, _, ok := DecodeMatrixCells(cells, Matrix3x3)
	if !ok {
		t.Fatalf("decode failed")
	}
	// any rotation of the grid must decode to the same canonical id
	rotated := cells
	for turns := 1; turns <= 3; turns++ {
		rotated = rotateGrid(rotated, 3)
		got, _, _, ok := DecodeMatrixCells(rotated, Matrix3x3)
		if !ok {
			t.Fatalf("decode failed after %d turns", turns)
		}
		if got != id {
			t.Errorf("after %d turns: got id %d, want canonical %d", turns, got, id)
		}
	}
}

func TestSingleErrorCorrection(t *testing.T) {
	// ids whose codewords stay nearest under every single-cell flip at
	// every rotation
	cases := map[MatrixCodeType]uint64{
		Matrix3x3Hamming: 0,
		Matrix4x4BCH139:  44,
	}
	for code, id := range cases {
		cells, err := EncodeMatrixCells(id, code)
		if err != nil {
			t.Fatalf("%v: EncodeMatrixCells failed: %v", code, err)
		}
		for i := range cells {
			flipped := append([]uint8(nil), cells...)
			flipped[i] ^= 1
			got, _, corrected, ok := DecodeMatrixCells(flipped, code)
			if !ok {
				t.Fatalf("%v: decode rejected a single-bit error at cell %d", code, i)
			}
			if got != id {
				t.Errorf("%v: cell %d flipped: got id %d, want %d", code, i, got, id)
			}
			if corrected != 1 {
				t.Errorf("%v: cell %d flipped: got %d corrected errors, want 1", code, i, corrected)
			}
		}
	}
}

func TestBCHCorrectsDoubleError(t *testing.T) {
	cells, err := EncodeMatrixCells(22, Matrix4x4BCH135)
	if err != nil {
		t.Fatalf("EncodeMatrixCells failed: %v", err)
	}
	flipped := append([]uint8(nil), cells...)
	flipped[2] ^= 1
	flipped[9] ^= 1
	id, _, corrected, ok := DecodeMatrixCells(flipped, Matrix4x4BCH135)
	if !ok {
		t.Fatalf("decode rejected a double-bit error")
	}
	if id != 22 {
		t.Errorf("got id %d, want 22", id)
	}
	if corrected != 2 {
		t.Errorf("got %d corrected errors, want 2", corrected)
	}
}

func TestParityDetectsSingleError(t *testing.T) {
	cells, err := EncodeMatrixCells(0, Matrix3x3Parity)
	if err != nil {
		t.Fatalf("EncodeMatrixCells failed: %v", err)
	}
	flipped := append([]uint8(nil), cells...)
	flipped[4] ^= 1
	if _, _, _, ok := DecodeMatrixCells(flipped, Matrix3x3Parity); ok {
		t.Errorf("parity decode accepted a single-bit error")
	}
}

func TestEncodeMatrixCellsRejectsOutOfRange(t *testing.T) {
	if _, err := EncodeMatrixCells(512, Matrix3x3); err == nil {
		t.Errorf("expected error for id beyond 3x3 capacity")
	}
	if _, err := EncodeMatrixCells(32, Matrix3x3Hamming); err == nil {
		t.Errorf("expected error for id beyond hamming capacity")
	}
}

func TestCapacity(t *testing.T) {
	want := map[MatrixCodeType]uint64{
		Matrix3x3:        512,
		Matrix3x3Parity:  256,
		Matrix3x3Hamming: 32,
		Matrix4x4:        65536,
		Matrix4x4BCH139:  512,
		Matrix4x4BCH135:  32,
	}
	for code, cap := range want {
		if got := code.Capacity(); got != cap {
			t.Errorf("%v: got capacity %d, want %d", code, got, cap)
		}
	}
}

func TestCellsFromSample(t *testing.T) {
	sample := []uint8{
		20, 230, 20,
		230, 230, 20,
		20, 20, 230,
	}
	cells, ok := CellsFromSample(sample, 3)
	if !ok {
		t.Fatalf("CellsFromSample rejected a high-contrast sample")
	}
	want := []uint8{1, 0, 1, 0, 0, 1, 1, 1, 0}
	for i := range want {
		if cells[i] != want[i] {
			t.Errorf("cell %d: got %d, want %d", i, cells[i], want[i])
		}
	}

	flat := []uint8{128, 130, 129, 131, 128, 130, 129, 131, 128}
	if _, ok := CellsFromSample(flat, 3); ok {
		t.Errorf("CellsFromSample accepted a low-contrast sample")
	}
}
