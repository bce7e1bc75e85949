package detect

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// MatrixCodeType selects the grid geometry and error-correcting code used for
// matrix (barcode) markers.
type MatrixCodeType int

const (
	// Matrix3x3 is a raw 9-bit grid with no correction; the canonical id
	// is the smallest value over the four rotations.
	Matrix3x3 MatrixCodeType = iota
	// Matrix3x3Parity carries 8 data bits plus an even-parity bit;
	// detects single errors.
	Matrix3x3Parity
	// Matrix3x3Hamming carries 5 data bits in a shortened Hamming(15,11)
	// codeword; corrects single errors.
	Matrix3x3Hamming
	// Matrix4x4 is a raw 16-bit grid with no correction.
	Matrix4x4
	// Matrix4x4BCH139 carries 9 data bits in a 13-bit shortened
	// Hamming(15,11) codeword; corrects single errors. The last three
	// grid cells are fixed white padding.
	Matrix4x4BCH139
	// Matrix4x4BCH135 carries 5 data bits in a 13-bit shortened BCH(15,7)
	// codeword; corrects double errors. Same padding layout.
	Matrix4x4BCH135
)

var matrixCodeNames = map[MatrixCodeType]string{
	Matrix3x3:        "3x3",
	Matrix3x3Parity:  "3x3_parity",
	Matrix3x3Hamming: "3x3_hamming",
	Matrix4x4:        "4x4",
	Matrix4x4BCH139:  "4x4_bch_13_9",
	Matrix4x4BCH135:  "4x4_bch_13_5",
}

func (t MatrixCodeType) String() string {
	if s, ok := matrixCodeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseMatrixCodeType is the inverse of String.
func ParseMatrixCodeType(s string) (MatrixCodeType, error) {
	for t, name := range matrixCodeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.New("unknown matrix code type: " + s)
}

// GridSize is the side length of the cell grid.
func (t MatrixCodeType) GridSize() int {
	if t >= Matrix4x4 {
		return 4
	}
	return 3
}

type codeSpec struct {
	n         int  // codeword length in bits
	k         int  // data bits
	generator uint // generator polynomial, 0 for raw/parity
	correct   int  // correctable bit errors
	parity    bool // single trailing even-parity bit
}

var codeSpecs = map[MatrixCodeType]codeSpec{
	Matrix3x3:       {n: 9, k: 9},
	Matrix3x3Parity: {n: 9, k: 8, parity: true},
	// shortened Hamming(15,11), g(x) = x^4+x+1
	Matrix3x3Hamming: {n: 9, k: 5, generator: 0b10011, correct: 1},
	Matrix4x4:        {n: 16, k: 16},
	Matrix4x4BCH139:  {n: 13, k: 9, generator: 0b10011, correct: 1},
	// shortened BCH(15,7,5), g(x) = x^8+x^7+x^6+x^4+1
	Matrix4x4BCH135: {n: 13, k: 5, generator: 0b111010001, correct: 2},
}

// Capacity is the number of distinct ids the code can represent.
func (t MatrixCodeType) Capacity() uint64 {
	return 1 << codeSpecs[t].k
}

// polyMod reduces a modulo the generator g over GF(2).
func polyMod(a, g uint) uint {
	dg := bits.Len(g) - 1
	for bits.Len(a)-1 >= dg {
		a ^= g << (bits.Len(a) - 1 - dg)
	}
	return a
}

// encodeWord builds the systematic codeword for the data bits.
func (s codeSpec) encodeWord(data uint) uint {
	if s.parity {
		return data<<1 | uint(bits.OnesCount(data)&1)
	}
	if s.generator == 0 {
		return data
	}
	r := bits.Len(s.generator) - 1
	shifted := data << r
	return shifted | polyMod(shifted, s.generator)
}

// decodeWord finds the codeword within the code's correction radius, by
// minimum Hamming distance over the (small) codeword set. Returns the data
// bits and the number of corrected errors.
func (s codeSpec) decodeWord(word uint) (data uint, corrected int, ok bool) {
	if s.generator == 0 {
		return word, 0, true
	}
	bestData, bestDist := uint(0), s.correct+1
	for d := uint(0); d < 1<<s.k; d++ {
		dist := bits.OnesCount(s.encodeWord(d) ^ word)
		if dist < bestDist {
			bestData, bestDist = d, dist
		}
	}
	if bestDist > s.correct {
		return 0, 0, false
	}
	return bestData, bestDist, true
}

// EncodeMatrixCells renders an id into a row-major cell grid, 1 = dark cell.
// Codeword bits fill the grid MSB-first; cells beyond the codeword length are
// padding fixed to 0.
func EncodeMatrixCells(id uint64, t MatrixCodeType) ([]uint8, error) {
	spec, okType := codeSpecs[t]
	if !okType {
		return nil, fmt.Errorf("unknown matrix code type %d", t)
	}
	if id >= t.Capacity() {
		return nil, fmt.Errorf("barcode id %d out of range for %s (max %d)", id, t, t.Capacity()-1)
	}
	word := spec.encodeWord(uint(id))
	g := t.GridSize()
	cells := make([]uint8, g*g)
	for i := 0; i < spec.n; i++ {
		if word&(1<<(spec.n-1-i)) != 0 {
			cells[i] = 1
		}
	}
	return cells, nil
}

// DecodeMatrixCells reads a row-major cell grid back into an id, trying all
// four rotations. For ECC variants the rotation whose codeword decodes with
// the fewest corrected errors wins; raw grids canonicalize to the smallest
// id. rotation is the number of clockwise quarter turns that were undone.
func DecodeMatrixCells(cells []uint8, t MatrixCodeType) (id uint64, rotation int, corrected int, ok bool) {
	spec, okType := codeSpecs[t]
	g := t.GridSize()
	if !okType || len(cells) != g*g {
		return 0, 0, 0, false
	}

	bestID := uint64(math.MaxUint64)
	bestErr := spec.correct + 1
	bestRot := -1
	cur := cells
	for r := 0; r < 4; r++ {
		if r > 0 {
			cur = rotateGrid(cur, g)
		}
		word, pad := readWord(cur, spec.n)
		if !pad {
			continue
		}
		var data uint
		var nerr int
		switch {
		case t == Matrix3x3Parity:
			if !parityOK(word) {
				continue
			}
			data = word >> 1
		default:
			var decOK bool
			data, nerr, decOK = spec.decodeWord(word)
			if !decOK {
				continue
			}
		}
		if nerr < bestErr || (nerr == bestErr && uint64(data) < bestID) {
			bestID = uint64(data)
			bestErr = nerr
			bestRot = r
		}
	}
	if bestRot < 0 {
		return 0, 0, 0, false
	}
	return bestID, bestRot, bestErr, true
}

// readWord packs the first n cells into a codeword and verifies padding cells
// are clear.
func readWord(cells []uint8, n int) (uint, bool) {
	var word uint
	for i := 0; i < n; i++ {
		word <<= 1
		if cells[i] != 0 {
			word |= 1
		}
	}
	for i := n; i < len(cells); i++ {
		if cells[i] != 0 {
			return 0, false
		}
	}
	return word, true
}

func parityOK(word uint) bool {
	return bits.OnesCount(word)%2 == 0
}

// CellsFromSample binarizes a rectified g×g luminance sample into cells,
// 1 = dark. Requires enough contrast to split the cells into two classes.
func CellsFromSample(sample []uint8, g int) ([]uint8, bool) {
	lo, hi := 255, 0
	for _, v := range sample {
		if int(v) < lo {
			lo = int(v)
		}
		if int(v) > hi {
			hi = int(v)
		}
	}
	if hi-lo < 30 {
		return nil, false
	}
	mid := uint8((lo + hi) / 2)
	cells := make([]uint8, len(sample))
	for i, v := range sample {
		if v < mid {
			cells[i] = 1
		}
	}
	return cells, true
}
