package detector

import (
	"image"
	"sort"
)

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Rect returns the box rounded outward to integer pixels
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2+0.5), int(b.Y2+0.5))
}

// Landmark indices shared by every localizer. "Right" and "left" are the
// subject's, so the right points sit at smaller image x.
const (
	RightEye = iota
	LeftEye
	Nose
	Mouth
	RightRef
	LeftRef

	NumLandmarks
)

// Landmarks is the ordered keypoint list for one face
type Landmarks []Point

// At returns the landmark at index i and whether it exists
func (l Landmarks) At(i int) (Point, bool) {
	if i < 0 || i >= len(l) {
		return Point{}, false
	}
	return l[i], true
}

// AsSlice returns landmarks as a flat slice [x0,y0,x1,y1,...]
func (l Landmarks) AsSlice() []float32 {
	out := make([]float32, 0, len(l)*2)
	for _, p := range l {
		out = append(out, p.X, p.Y)
	}
	return out
}

// SixPoint builds the shared landmark layout from eye, nose and mouth points,
// with the reference points on the box edges at eye height.
func SixPoint(box BoundingBox, rightEye, leftEye, nose, mouth Point) Landmarks {
	eyeY := (rightEye.Y + leftEye.Y) / 2
	return Landmarks{
		RightEye: rightEye,
		LeftEye:  leftEye,
		Nose:     nose,
		Mouth:    mouth,
		RightRef: {X: box.X1, Y: eyeY},
		LeftRef:  {X: box.X2, Y: eyeY},
	}
}

// Face represents a detected face
type Face struct {
	BoundingBox BoundingBox
	Landmarks   Landmarks
	Score       float32
}

// SortByScore orders faces best first
func SortByScore(faces []Face) {
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Score > faces[j].Score
	})
}
