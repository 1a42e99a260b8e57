/*
Package canvas holds the in-memory pixel grid.

Each cell is one palette index. A board also carries the color every cell
starts with and the placemap, the mask of cells users may paint.
*/
package canvas

import (
	"fmt"
	"sync"
)

// Board is a width x height grid of palette indexes, safe for concurrent use.
type Board struct {
	mu sync.RWMutex

	width  int
	height int

	pixels   []byte
	defaults []byte
	locked   []bool
}

// NewBoard returns a board with every cell set to defaultColor and editable.
func NewBoard(width, height int, defaultColor byte) *Board {
	n := width * height
	b := &Board{
		width:    width,
		height:   height,
		pixels:   make([]byte, n),
		defaults: make([]byte, n),
		locked:   make([]bool, n),
	}
	for i := range b.pixels {
		b.pixels[i] = defaultColor
		b.defaults[i] = defaultColor
	}
	return b
}

func (b *Board) index(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return 0, false
	}
	return y*b.width + x, true
}

// Width returns the board width in cells.
func (b *Board) Width() int { return b.width }

// Height returns the board height in cells.
func (b *Board) Height() int { return b.height }

// Pixel returns the color at (x, y), or -1 outside the board.
func (b *Board) Pixel(x, y int) int {
	i, ok := b.index(x, y)
	if !ok {
		return -1
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.pixels[i])
}

// SetPixel writes color at (x, y). Writes outside the board are ignored.
func (b *Board) SetPixel(x, y, color int) {
	i, ok := b.index(x, y)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pixels[i] = byte(color)
}

// Editable reports whether (x, y) is inside the placemap.
func (b *Board) Editable(x, y int) bool {
	i, ok := b.index(x, y)
	if !ok {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.locked[i]
}

// DefaultColor returns the color (x, y) started with.
func (b *Board) DefaultColor(x, y int) int {
	i, ok := b.index(x, y)
	if !ok {
		return -1
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.defaults[i])
}

// LoadDefaults replaces the starting colors and resets every cell to them.
func (b *Board) LoadDefaults(data []byte) error {
	if err := b.checkSize(data); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.defaults, data)
	copy(b.pixels, data)
	return nil
}

// LoadPlacemap sets the editable mask; a zero byte marks a cell users cannot paint.
func (b *Board) LoadPlacemap(mask []byte) error {
	if err := b.checkSize(mask); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range mask {
		b.locked[i] = m == 0
	}
	return nil
}

// Snapshot returns a copy of the cells in row-major order.
func (b *Board) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, len(b.pixels))
	copy(out, b.pixels)
	return out
}

func (b *Board) checkSize(data []byte) error {
	if want := b.width * b.height; len(data) != want {
		return fmt.Errorf("canvas: got %d bytes, want %d", len(data), want)
	}
	return nil
}
