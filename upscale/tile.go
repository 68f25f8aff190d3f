package upscale

import "fmt"

// minTileSize keeps tiles large enough that the conv stages see a
// meaningful spatial context.
const minTileSize = 64

// tileRect is one spatial tile in input coordinates, [y0,y1) x [x0,x1).
type tileRect struct {
	y0, y1 int
	x0, x1 int
}

func (t tileRect) height() int { return t.y1 - t.y0 }
func (t tileRect) width() int  { return t.x1 - t.x0 }

// tileGrid partitions an h x w frame into a row-major grid of tiles of
// at most tile x tile. Edge tiles absorb the remainder, so the grid
// always covers the frame exactly with no overlap.
func tileGrid(h, w, tile int) ([]tileRect, int, error) {
	if tile < minTileSize {
		return nil, 0, fmt.Errorf("upscale: tile size must be >= %d, got %d", minTileSize, tile)
	}
	if h < 1 || w < 1 {
		return nil, 0, fmt.Errorf("upscale: invalid frame size %dx%d", w, h)
	}

	cols := (w + tile - 1) / tile
	rows := (h + tile - 1) / tile

	grid := make([]tileRect, 0, rows*cols)
	for r := 0; r < rows; r++ {
		y0 := r * tile
		y1 := min(y0+tile, h)
		for c := 0; c < cols; c++ {
			x0 := c * tile
			grid = append(grid, tileRect{y0: y0, y1: y1, x0: x0, x1: min(x0+tile, w)})
		}
	}
	return grid, cols, nil
}
