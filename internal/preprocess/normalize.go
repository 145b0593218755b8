// Package preprocess turns a cropped face into the classifier's input tensor.
package preprocess

import (
	"errors"
	"image"
	"math"
)

// Size is the classifier's square input resolution
const Size = 48

// ErrEmptyCrop is returned for a crop with no pixels
var ErrEmptyCrop = errors.New("empty crop")

// Tensor is a dense NHWC float32 tensor
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Shape64 returns the shape in the form onnxruntime expects
func (t Tensor) Shape64() []int64 {
	return []int64{int64(t.Shape[0]), int64(t.Shape[1]), int64(t.Shape[2]), int64(t.Shape[3])}
}

// At returns the value at row y, column x of the first batch and channel
func (t Tensor) At(y, x int) float32 {
	return t.Data[y*t.Shape[2]+x]
}

// Normalizer resizes a crop to Size x Size with bilinear sampling and
// collapses colour to the plain mean of R, G and B. Values stay in the
// 0..255 pixel range.
type Normalizer struct {
	Size int
}

// NewNormalizer returns a Normalizer producing [1,48,48,1] tensors
func NewNormalizer() Normalizer {
	return Normalizer{Size: Size}
}

// Normalize converts a crop into a [1,Size,Size,1] tensor. Only the source
// pixels under the sampling grid are read, so the cost does not depend on the
// size of the crop.
func (n Normalizer) Normalize(img image.Image) (Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return Tensor{}, ErrEmptyCrop
	}

	size := n.Size
	if size <= 0 {
		size = Size
	}

	b := img.Bounds()
	data := resizeBilinear(sampler(img), b.Dx(), b.Dy(), size, size)

	return Tensor{
		Shape: [4]int{1, size, size, 1},
		Data:  data,
	}, nil
}

// MeanSource is implemented by images that can produce the channel mean of a
// pixel without going through color.Color.
type MeanSource interface {
	MeanAt(x, y int) float32
}

// PixelMean returns the plain mean of R, G and B at (x, y) in 8-bit units.
// NRGBA pixels are read as stored; other models are un-premultiplied first.
func PixelMean(img image.Image, x, y int) float32 {
	if nrgba, ok := img.(*image.NRGBA); ok {
		i := nrgba.PixOffset(x, y)
		px := nrgba.Pix[i : i+3]
		return (float32(px[0]) + float32(px[1]) + float32(px[2])) / 3
	}

	r, g, b, a := img.At(x, y).RGBA()
	if a == 0 {
		return 0
	}
	// Undo alpha premultiplication so transparent edges are not darkened
	r, g, b = r*0xffff/a, g*0xffff/a, b*0xffff/a
	return (float32(r>>8) + float32(g>>8) + float32(b>>8)) / 3
}

// sampler returns a lookup relative to the image's top-left corner
func sampler(img image.Image) func(x, y int) float32 {
	o := img.Bounds().Min
	if ms, ok := img.(MeanSource); ok {
		return func(x, y int) float32 { return ms.MeanAt(o.X+x, o.Y+y) }
	}
	return func(x, y int) float32 { return PixelMean(img, o.X+x, o.Y+y) }
}

// resizeBilinear samples a w x h plane onto an outW x outH grid. Source
// coordinates are dst * (in/out) with the far neighbour clamped to the last
// row or column, matching the usual resizeBilinear without corner alignment.
func resizeBilinear(at func(x, y int) float32, w, h, outW, outH int) []float32 {
	out := make([]float32, outW*outH)
	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	for y := 0; y < outH; y++ {
		sy := float64(y) * scaleY
		y0 := int(math.Floor(sy))
		y1 := min(y0+1, h-1)
		dy := float32(sy - float64(y0))

		for x := 0; x < outW; x++ {
			sx := float64(x) * scaleX
			x0 := int(math.Floor(sx))
			x1 := min(x0+1, w-1)
			dx := float32(sx - float64(x0))

			tl := at(x0, y0)
			tr := at(x1, y0)
			bl := at(x0, y1)
			br := at(x1, y1)

			top := tl + (tr-tl)*dx
			bottom := bl + (br-bl)*dx
			out[y*outW+x] = top + (bottom-top)*dy
		}
	}

	return out
}
