// Package render draws PNG previews of the heatmap and embedding views using
// fogleman/gg. Previews honor the view's current render instruction.
package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/nmfscope/server/internal/data/embedding"
	"github.com/nmfscope/server/internal/sample"
	"github.com/nmfscope/server/internal/view"
	"github.com/nmfscope/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	PointSize       float64
	HeatmapColormap string
}

const (
	stripHeight = 12.0
	margin      = 8.0
	dimAlpha    = 0.75
)

// Renderer renders view previews. It is safe for concurrent use.
type Renderer struct {
	config      Config
	heatmapCmap colormap.Colormap
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 400
	}
	if cfg.PointSize <= 0 {
		cfg.PointSize = 3
	}
	cmap, ok := colormap.ByName(cfg.HeatmapColormap)
	if !ok {
		cmap = colormap.Viridis
	}

	return &Renderer{
		config:      cfg,
		heatmapCmap: cmap,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Size returns the preview dimensions.
func (r *Renderer) Size() (width, height int) {
	return r.config.Width, r.config.Height
}

// HeatmapInput is what a heatmap preview shows.
type HeatmapInput struct {
	// H is indexed by handle, then by component column.
	H [][]float64
	// Order is the sample display order, left to right.
	Order []sample.Handle
	// Components lists component columns top to bottom.
	Components []int
	// Strip holds one annotation color per handle, drawn above the cells.
	Strip []color.Color
}

// RenderHeatmap draws one column per sample and one row per component.
// Columns that the instruction does not emphasize are washed out.
func (r *Renderer) RenderHeatmap(in HeatmapInput, ins view.Instruction) ([]byte, error) {
	if len(in.Order) == 0 || len(in.Components) == 0 {
		return nil, errors.New("nothing to render")
	}
	emphasized := emphasis(ins, len(in.H))

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	top := margin
	if in.Strip != nil {
		top += stripHeight + 2
	}
	width := float64(r.config.Width) - 2*margin
	height := float64(r.config.Height) - top - margin
	colW := width / float64(len(in.Order))
	rowH := height / float64(len(in.Components))

	maxV := 0.0
	for _, row := range in.H {
		for _, v := range row {
			maxV = math.Max(maxV, v)
		}
	}
	if maxV == 0 {
		maxV = 1
	}

	for pos, h := range in.Order {
		x := margin + float64(pos)*colW
		if in.Strip != nil && int(h) < len(in.Strip) {
			dc.SetColor(in.Strip[h])
			dc.DrawRectangle(x, margin, colW, stripHeight)
			dc.Fill()
		}
		for rank, c := range in.Components {
			dc.SetColor(r.heatmapCmap.At(in.H[h][c] / maxV))
			dc.DrawRectangle(x, top+float64(rank)*rowH, colW, rowH)
			dc.Fill()
		}
		if emphasized != nil && !emphasized[h] {
			dc.SetRGBA(1, 1, 1, dimAlpha)
			dc.DrawRectangle(x, margin, colW, top-margin+height)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

// ScatterInput is what an embedding preview shows.
type ScatterInput struct {
	Coordinates *embedding.Coordinates
	// Colors holds one color per handle; nil draws every point gray.
	Colors []color.Color
}

// RenderScatter draws every point of the embedding. A highlight mask sets
// per-point opacity; a filter list hides excluded points.
func (r *Renderer) RenderScatter(in ScatterInput, ins view.Instruction) ([]byte, error) {
	if in.Coordinates == nil || in.Coordinates.Len() == 0 {
		return nil, errors.New("nothing to render")
	}
	n := in.Coordinates.Len()
	alpha := opacity(ins, n)

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	b := in.Coordinates.Bounds()
	spanX := b.MaxX - b.MinX
	spanY := b.MaxY - b.MinY
	if spanX == 0 {
		spanX = 1
	}
	if spanY == 0 {
		spanY = 1
	}
	pad := margin + r.config.PointSize
	w := float64(r.config.Width) - 2*pad
	h := float64(r.config.Height) - 2*pad

	// Dimmed points first so emphasized ones stay on top.
	for pass := 0; pass < 2; pass++ {
		for i, p := range in.Coordinates.Points {
			a := alpha[i]
			if a == 0 || (pass == 0) != (a < 1) {
				continue
			}
			px := pad + (p.X-b.MinX)/spanX*w
			py := pad + h - (p.Y-b.MinY)/spanY*h

			var c color.Color = color.RGBA{R: 90, G: 90, B: 90, A: 255}
			if i < len(in.Colors) && in.Colors[i] != nil {
				c = in.Colors[i]
			}
			cr, cg, cb, _ := c.RGBA()
			dc.SetRGBA(float64(cr)/0xffff, float64(cg)/0xffff, float64(cb)/0xffff, a)
			dc.DrawCircle(px, py, r.config.PointSize)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

// emphasis returns the emphasized handles, or nil when everything is.
func emphasis(ins view.Instruction, n int) []bool {
	switch v := ins.(type) {
	case view.HighlightMask:
		if v.Cleared || len(v.Emphasis) != n {
			return nil
		}
		return v.Emphasis
	case view.FilterList:
		if v.Cleared {
			return nil
		}
		out := make([]bool, n)
		for _, h := range v.Include {
			if int(h) < n {
				out[h] = true
			}
		}
		return out
	default:
		return nil
	}
}

// opacity returns one alpha value per handle; zero means hidden.
func opacity(ins view.Instruction, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	switch v := ins.(type) {
	case view.HighlightMask:
		if v.Cleared {
			break
		}
		if len(v.Opacity) == n {
			copy(out, v.Opacity)
			break
		}
		for i, e := range v.Emphasis {
			if i < n && !e {
				out[i] = view.DefaultDimOpacity
			}
		}
	case view.FilterList:
		if v.Cleared {
			break
		}
		for i := range out {
			out[i] = 0
		}
		for _, h := range v.Include {
			if int(h) < n {
				out[h] = 1
			}
		}
	}
	return out
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
