// Package ui draws detection results with OpenCV, either into a preview
// window or onto an image written to disk.
package ui

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/dudu/moodface/internal/pipeline"
)

var (
	colorRegion   = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	colorFace     = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	colorLandmark = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	colorNoFace   = color.RGBA{R: 255, G: 180, B: 0, A: 255}
	colorError    = color.RGBA{R: 255, G: 60, B: 60, A: 255}
)

// maxLines caps how many predictions are printed on the image
const maxLines = 3

// Caption returns the text lines drawn for a result
func Caption(res pipeline.Result) []string {
	if res.State != pipeline.Ranked {
		line := res.Status()
		if res.Failure != nil && res.Reason() != pipeline.ReasonNoFaceDetected {
			line = fmt.Sprintf("%s (%s)", line, res.Reason())
		}
		return []string{line}
	}

	if len(res.Predictions) == 0 {
		return []string{res.Status()}
	}

	lines := make([]string, 0, maxLines)
	for i, p := range res.Predictions {
		if i == maxLines {
			break
		}
		lines = append(lines, fmt.Sprintf("%s %.1f%%", p.Emotion, p.Probability))
	}
	return lines
}

func captionColor(res pipeline.Result) color.RGBA {
	switch {
	case res.State == pipeline.Ranked:
		return colorRegion
	case res.Reason() == pipeline.ReasonNoFaceDetected:
		return colorNoFace
	default:
		return colorError
	}
}

// Render draws res over img and returns a BGR Mat owned by the caller
func Render(img image.Image, res pipeline.Result) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert image: %w", err)
	}

	// Face and region coordinates are relative to the image origin, which
	// matches the Mat's top-left pixel.
	if res.Face != nil {
		box := res.Face.BoundingBox.Rect()
		gocv.Rectangle(&mat, box, colorFace, 1)
		for _, pt := range res.Face.Landmarks {
			p := image.Pt(int(pt.X), int(pt.Y))
			gocv.Circle(&mat, p, 2, colorLandmark, -1)
		}
	}

	textAt := image.Pt(10, 30)
	if res.Region != nil {
		rect := res.Region.Rect()
		gocv.Rectangle(&mat, rect, colorRegion, 2)
		textAt = image.Pt(max(rect.Min.X, 0), max(rect.Max.Y+24, 24))
	}

	scale, thickness := textScale(mat.Cols())
	c := captionColor(res)
	for i, line := range Caption(res) {
		at := textAt.Add(image.Pt(0, i*int(26*scale)))
		gocv.PutText(&mat, line, at, gocv.FontHersheySimplex, scale, c, thickness)
	}

	return mat, nil
}

// textScale keeps captions legible on both thumbnails and large photos
func textScale(width int) (float64, int) {
	switch {
	case width < 320:
		return 0.4, 1
	case width < 1280:
		return 0.7, 2
	default:
		return 1.2, 3
	}
}

// Annotate renders res over img and writes it to path. The format follows
// the file extension.
func Annotate(img image.Image, res pipeline.Result, path string) error {
	mat, err := Render(img, res)
	if err != nil {
		return err
	}
	defer mat.Close()

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("failed to write annotated image to %s", path)
	}
	return nil
}

// AnnotatedName derives an output file name for src inside dir
func AnnotatedName(dir, src string, index int) string {
	base := src
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot]
	}
	if base == "" || base == "-" {
		base = "stdin"
	}
	return fmt.Sprintf("%s/%03d_%s.png", strings.TrimRight(dir, "/"), index, base)
}
