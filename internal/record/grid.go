package record

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Grid is a height×width raster of optional values. Row 0 is the southernmost
// row. Absent cells are stored as NaN internally and reported as missing.
type Grid struct {
	height int
	width  int
	cells  []float64
}

// NewGrid returns a grid with every cell absent.
func NewGrid(height, width int) *Grid {
	cells := make([]float64, height*width)
	for i := range cells {
		cells[i] = math.NaN()
	}
	return &Grid{height: height, width: width, cells: cells}
}

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// At returns the value at (row, col) and whether it is present.
func (g *Grid) At(row, col int) (float64, bool) {
	v := g.cells[row*g.width+col]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Set stores a present value at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.cells[row*g.width+col] = v
}

// Clear marks (row, col) as absent.
func (g *Grid) Clear(row, col int) {
	g.cells[row*g.width+col] = math.NaN()
}

// Row returns a copy of one row with absent cells as nil.
func (g *Grid) Row(row int) []*float64 {
	out := make([]*float64, g.width)
	for col := range out {
		if v, ok := g.At(row, col); ok {
			out[col] = &v
		}
	}
	return out
}

// Count returns the number of present cells and their sum.
func (g *Grid) Count() (present int, sum float64) {
	for _, v := range g.cells {
		if !math.IsNaN(v) {
			present++
			sum += v
		}
	}
	return present, sum
}

// MarshalJSON encodes the grid as a nested array, rows first, with null for
// absent cells.
func (g *Grid) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(g.height * g.width * 3)
	buf.WriteByte('[')
	for row := 0; row < g.height; row++ {
		if row > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for col := 0; col < g.width; col++ {
			if col > 0 {
				buf.WriteByte(',')
			}
			v, ok := g.At(row, col)
			if !ok {
				buf.WriteString("null")
				continue
			}
			buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (g *Grid) String() string {
	present, _ := g.Count()
	return fmt.Sprintf("Grid(%dx%d, %d present)", g.height, g.width, present)
}
