// Package mapping loads the navigation viewpoints the mission visits. A map
// file lists world-frame viewpoints directly, or pixel goals on an
// occupancy grid that are converted to world coordinates.
package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/cryptomaster/internal/fsutil"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoViewpoints is returned when a map yields no usable viewpoint.
	ErrNoViewpoints = errors.New("map has no usable viewpoints")
	// ErrOutsideGrid is returned for a pixel outside the grid bounds.
	ErrOutsideGrid = errors.New("pixel outside grid")
	// ErrCellNotFree is returned for a pixel on an occupied or unknown cell.
	ErrCellNotFree = errors.New("cell is not free")
)

var logf = monitoring.Component("mapping")

const maxMapFileSize = 8 * 1024 * 1024

// Pixel addresses a grid cell in image convention: row 0 is the top row.
type Pixel struct {
	Col int `json:"col" yaml:"col"`
	Row int `json:"row" yaml:"row"`
}

// Grid is occupancy-grid metadata. Cells, when present, holds width*height
// occupancy values in row-major order starting at the origin row (bottom of
// the image): 0 is free, 100 occupied, -1 unknown.
type Grid struct {
	Width      int        `json:"width" yaml:"width"`
	Height     int        `json:"height" yaml:"height"`
	Resolution float64    `json:"resolution" yaml:"resolution"` // metres per cell
	Origin     geom.Point `json:"origin" yaml:"origin"`         // world position of cell (0,0)'s corner
	Cells      []int8     `json:"cells,omitempty" yaml:"cells,omitempty"`
}

// Validate checks the grid dimensions.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid size must be positive, got %dx%d", g.Width, g.Height)
	}
	if !(g.Resolution > 0) || math.IsInf(g.Resolution, 0) {
		return fmt.Errorf("grid resolution must be positive, got %v", g.Resolution)
	}
	if g.Cells != nil && len(g.Cells) != g.Width*g.Height {
		return fmt.Errorf("grid has %d cells, want %d", len(g.Cells), g.Width*g.Height)
	}
	return nil
}

// cellIndex returns the row-major index of p in Cells.
func (g *Grid) cellIndex(p Pixel) (int, error) {
	if p.Col < 0 || p.Col >= g.Width || p.Row < 0 || p.Row >= g.Height {
		return 0, fmt.Errorf("pixel (%d,%d) in %dx%d grid: %w", p.Col, p.Row, g.Width, g.Height, ErrOutsideGrid)
	}
	return (g.Height-1-p.Row)*g.Width + p.Col, nil
}

// IsFree reports whether the cell under p is known free. Without cell data
// every in-bounds pixel is free.
func (g *Grid) IsFree(p Pixel) (bool, error) {
	idx, err := g.cellIndex(p)
	if err != nil {
		return false, err
	}
	if g.Cells == nil {
		return true, nil
	}
	return g.Cells[idx] == 0, nil
}

// PixelToWorld returns the world position of the centre of the cell under p.
func (g *Grid) PixelToWorld(p Pixel) (geom.Point, error) {
	if _, err := g.cellIndex(p); err != nil {
		return geom.Point{}, err
	}
	row := g.Height - 1 - p.Row
	return geom.Pt(
		g.Origin.X+(float64(p.Col)+0.5)*g.Resolution,
		g.Origin.Y+(float64(row)+0.5)*g.Resolution,
	), nil
}

// File is the on-disk map description. Both sections may be used at once.
type File struct {
	Viewpoints []geom.Point `json:"viewpoints,omitempty" yaml:"viewpoints,omitempty"`
	Grid       *Grid        `json:"grid,omitempty" yaml:"grid,omitempty"`
	Goals      []Pixel      `json:"goals,omitempty" yaml:"goals,omitempty"`
}

// Resolve returns the world viewpoints: explicit ones first, then the pixel
// goals that land on free cells. Goals on non-free cells are logged and
// skipped.
func (f *File) Resolve() ([]geom.Point, error) {
	out := append([]geom.Point(nil), f.Viewpoints...)
	for _, vp := range out {
		if math.IsNaN(vp.X) || math.IsNaN(vp.Y) || math.IsInf(vp.X, 0) || math.IsInf(vp.Y, 0) {
			return nil, fmt.Errorf("viewpoint %s is not finite", vp)
		}
	}

	if len(f.Goals) > 0 {
		if f.Grid == nil {
			return nil, errors.New("pixel goals need grid metadata")
		}
		if err := f.Grid.Validate(); err != nil {
			return nil, err
		}
		for _, px := range f.Goals {
			free, err := f.Grid.IsFree(px)
			if err != nil {
				return nil, err
			}
			if !free {
				logf("skipping goal at pixel (%d,%d): %v", px.Col, px.Row, ErrCellNotFree)
				continue
			}
			p, err := f.Grid.PixelToWorld(px)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoViewpoints
	}
	return out, nil
}

// Parse decodes a YAML (or JSON) map description and resolves it.
func Parse(data []byte) ([]geom.Point, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse map: %w", err)
	}
	return f.Resolve()
}

// Load reads and resolves the map file at path.
func Load(path string) ([]geom.Point, error) {
	return LoadFS(fsutil.OSFileSystem{}, path)
}

// LoadFS reads and resolves the map file at path on fsys.
func LoadFS(fsys fsutil.FileSystem, path string) ([]geom.Point, error) {
	data, err := fsutil.ReadLimited(fsys, path, maxMapFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load map file: %w", err)
	}
	vps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logf("loaded %d viewpoints from %s", len(vps), path)
	return vps, nil
}
