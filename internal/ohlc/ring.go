package ohlc

import (
	"time"

	"github.com/shopspring/decimal"
)

// Point is one recorded price sample kept for charting.
type Point struct {
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
}

// ring is a bounded buffer of the most recent points for one item.
type ring struct {
	buf  []Point
	head int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Point, size)}
}

func (r *ring) push(p Point) {
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

// points returns the buffered points oldest first.
func (r *ring) points() []Point {
	if !r.full {
		out := make([]Point, r.head)
		copy(out, r.buf[:r.head])
		return out
	}
	out := make([]Point, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}
