// Package crop derives the square face region fed to the emotion classifier
// and cuts it out of the source image.
package crop

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/dudu/moodface/internal/detector"
)

// DefaultMargin is added to each side of the eye-span half width so the crop
// is not too tight around the face.
const DefaultMargin = 5

// ErrInvalidGeometry is returned when landmarks cannot produce a positive crop
var ErrInvalidGeometry = errors.New("invalid crop geometry")

// Region is a square in source pixel coordinates. It may extend past the
// image bounds.
type Region struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Rect snaps the region to the integer pixel grid. The result stays square.
func (r Region) Rect() image.Rectangle {
	x := int(math.Round(float64(r.X)))
	y := int(math.Round(float64(r.Y)))
	side := int(math.Round(float64(r.Width)))
	return image.Rect(x, y, x+side, y+side)
}

// Geometry computes crop regions from landmark sets
type Geometry struct {
	Margin float32
}

// NewGeometry returns a Geometry using DefaultMargin
func NewGeometry() Geometry {
	return Geometry{Margin: DefaultMargin}
}

// Region centres a square on the nose tip, sized by the horizontal span
// between the right and left reference landmarks plus the margin.
func (g Geometry) Region(lm detector.Landmarks) (Region, error) {
	if len(lm) < detector.NumLandmarks {
		return Region{}, fmt.Errorf("%w: need %d landmarks, got %d", ErrInvalidGeometry, detector.NumLandmarks, len(lm))
	}

	nose := lm[detector.Nose]
	right := lm[detector.RightRef]
	left := lm[detector.LeftRef]

	for _, pt := range []detector.Point{nose, right, left} {
		if !finite(pt.X) || !finite(pt.Y) {
			return Region{}, fmt.Errorf("%w: non-finite landmark (%v, %v)", ErrInvalidGeometry, pt.X, pt.Y)
		}
	}

	// Mirrored or collapsed references are rejected even when the margin
	// would still give a positive size.
	if !(left.X > right.X) {
		return Region{}, fmt.Errorf("%w: left reference x=%.2f is not right of x=%.2f",
			ErrInvalidGeometry, left.X, right.X)
	}

	half := (left.X-right.X)/2 + g.Margin
	if !(half > 0) || math.IsInf(float64(half), 0) {
		return Region{}, fmt.Errorf("%w: half width %.2f from references x=%.2f and x=%.2f",
			ErrInvalidGeometry, half, right.X, left.X)
	}

	return Region{
		X:      nose.X - half,
		Y:      nose.Y - half,
		Width:  2 * half,
		Height: 2 * half,
	}, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
