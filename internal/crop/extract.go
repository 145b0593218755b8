package crop

import (
	"image"
	"image/color"

	"github.com/dudu/moodface/internal/preprocess"
)

// Window is a square, zero-padded view onto part of a source image. Pixels
// are read from the source when asked for, so a window costs the same
// whatever its side.
type Window struct {
	src  image.Image
	rect image.Rectangle
}

// Extract returns the region of img as a Window anchored at (0,0). Pixels
// outside the source bounds are zero, so the result is always exactly square.
// A region that rounds to less than one pixel yields an empty window.
func Extract(img image.Image, r Region) *Window {
	rect := r.Rect()
	if rect.Dx() <= 0 {
		rect = image.Rectangle{}
	}
	return &Window{src: img, rect: rect}
}

func (w *Window) ColorModel() color.Model { return color.NRGBAModel }

func (w *Window) Bounds() image.Rectangle {
	return image.Rect(0, 0, w.rect.Dx(), w.rect.Dy())
}

func (w *Window) At(x, y int) color.Color { return w.NRGBAAt(x, y) }

// NRGBAAt returns the source pixel under (x, y), or transparent black for
// padding.
func (w *Window) NRGBAAt(x, y int) color.NRGBA {
	p, ok := w.source(x, y)
	if !ok {
		return color.NRGBA{}
	}
	if nrgba, ok := w.src.(*image.NRGBA); ok {
		return nrgba.NRGBAAt(p.X, p.Y)
	}
	return color.NRGBAModel.Convert(w.src.At(p.X, p.Y)).(color.NRGBA)
}

// MeanAt returns the channel mean used by the normalizer, zero for padding
func (w *Window) MeanAt(x, y int) float32 {
	p, ok := w.source(x, y)
	if !ok {
		return 0
	}
	return preprocess.PixelMean(w.src, p.X, p.Y)
}

// source maps window coordinates to the source image. Landmarks are relative
// to the image origin, which may not be (0,0) for sub-images.
func (w *Window) source(x, y int) (image.Point, bool) {
	if w.src == nil || !(image.Point{X: x, Y: y}).In(w.Bounds()) {
		return image.Point{}, false
	}
	b := w.src.Bounds()
	p := image.Pt(b.Min.X+w.rect.Min.X+x, b.Min.Y+w.rect.Min.Y+y)
	return p, p.In(b)
}
