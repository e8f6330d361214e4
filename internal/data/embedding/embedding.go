// Package embedding provides the 2D coordinates of every sample for the
// scatter view.
package embedding

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/nmfscope/server/internal/data/nmf"
	"github.com/nmfscope/server/internal/sample"
)

// Point is one sample position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is the bounding box of a set of points.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Coordinates holds one point per sample handle. It is read-only once built.
type Coordinates struct {
	Points []Point
	Source string
	// Extra counts rows of the source that named samples not in the index.
	Extra int
}

// Len returns the number of points.
func (c *Coordinates) Len() int { return len(c.Points) }

// At returns the position of handle h.
func (c *Coordinates) At(h sample.Handle) Point { return c.Points[h] }

// Bounds returns the bounding box of all points.
func (c *Coordinates) Bounds() Bounds {
	b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, p := range c.Points {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	if len(c.Points) == 0 {
		return Bounds{}
	}
	return b
}

// LoadCSV reads coordinates from a CSV file with a sample id column
// (idColumn, default the first column) and two coordinate columns: "x" and
// "y" when present, otherwise the first two numeric columns (e.g. UMAP-1,
// UMAP-2). Every sample of idx must appear.
func LoadCSV(path, idColumn string, idx *sample.Index) (*Coordinates, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	c, err := ReadCSV(r, idColumn, idx)
	if err != nil {
		return nil, fmt.Errorf("load embedding %s: %w", path, err)
	}
	c.Source = path
	return c, nil
}

// ReadCSV parses coordinates from r. See LoadCSV.
func ReadCSV(r io.Reader, idColumn string, idx *sample.Index) (*Coordinates, error) {
	if idColumn == "" {
		idColumn = nmf.DefaultSampleIDColumn
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("csv has no data rows")
	}
	header, rows := records[0], records[1:]

	idCol := 0
	xCol, yCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case strings.ToLower(idColumn):
			idCol = i
		case "x":
			xCol = i
		case "y":
			yCol = i
		}
	}
	if xCol < 0 || yCol < 0 {
		xCol, yCol = -1, -1
		for i := range header {
			if i == idCol || !numericColumn(rows, i) {
				continue
			}
			if xCol < 0 {
				xCol = i
			} else {
				yCol = i
				break
			}
		}
		if yCol < 0 {
			return nil, errors.New("need two numeric coordinate columns")
		}
	}

	c := &Coordinates{Points: make([]Point, idx.Size())}
	seen := make([]bool, idx.Size())
	for i, row := range rows {
		h, err := idx.Resolve(row[idCol])
		if err != nil {
			c.Extra++
			continue
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(row[xCol]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(row[yCol]), 64)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("row %d (%s): invalid coordinates", i+1, row[idCol])
		}
		c.Points[h] = Point{X: x, Y: y}
		seen[h] = true
	}

	missing := 0
	for _, ok := range seen {
		if !ok {
			missing++
		}
	}
	if missing > 0 {
		return nil, &nmf.DataShapeMismatchError{Part: "embedding rows", Got: idx.Size() - missing, Want: idx.Size()}
	}
	return c, nil
}

func numericColumn(rows [][]string, col int) bool {
	for _, row := range rows {
		if _, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64); err != nil {
			return false
		}
	}
	return true
}

// ProjectComponents places every sample by its activity in the two
// components with the largest total activity. It is the fallback when no
// embedding file is configured.
func ProjectComponents(ds *nmf.Dataset) (*Coordinates, error) {
	if len(ds.Components) < 2 {
		return nil, fmt.Errorf("projection needs at least two components, have %d", len(ds.Components))
	}
	sums := ds.ColumnSums()
	cols := make([]int, len(sums))
	for i := range cols {
		cols[i] = i
	}
	sort.SliceStable(cols, func(a, b int) bool { return sums[cols[a]] > sums[cols[b]] })
	cx, cy := cols[0], cols[1]

	c := &Coordinates{
		Points: make([]Point, len(ds.H)),
		Source: fmt.Sprintf("projection:%s,%s", ds.Components[cx], ds.Components[cy]),
	}
	for i, row := range ds.H {
		c.Points[i] = Point{X: row[cx], Y: row[cy]}
	}
	return c, nil
}
