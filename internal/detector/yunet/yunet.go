// Package yunet adapts OpenCV's YuNet face detector to the shared landmark
// layout. It is the only detector that links OpenCV.
package yunet

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/moodface/internal/detector"
)

// rowSize is the number of values YuNet emits per face
const rowSize = 15

// Config describes an OpenCV YuNet face detector
type Config struct {
	ModelPath     string
	ConfThreshold float32
	NMSThreshold  float32
	TopK          int
}

// DefaultConfig returns OpenCV's default YuNet thresholds
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:     modelPath,
		ConfThreshold: 0.9,
		NMSThreshold:  0.3,
		TopK:          5000,
	}
}

// Detector wraps OpenCV's FaceDetectorYN. Its five keypoints are expanded to
// the shared layout: the mouth is the midpoint of the mouth corners and the
// reference points are the box edges at eye height.
type Detector struct {
	mu  sync.Mutex
	net *gocv.FaceDetectorYN
}

// New loads the YuNet model
func New(cfg Config) (*Detector, error) {
	// OpenCV aborts instead of returning an error for a missing model
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to open YuNet model: %w", err)
	}

	net := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath, "", image.Pt(320, 320),
		cfg.ConfThreshold, cfg.NMSThreshold, cfg.TopK,
		int(gocv.NetBackendDefault), int(gocv.NetTargetCPU),
	)
	return &Detector{net: &net}, nil
}

// Ready reports whether the detector is open
func (d *Detector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net != nil
}

// Locate finds faces in an image, best first
func (d *Detector) Locate(ctx context.Context, img image.Image) ([]detector.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ImageToMatRGB produces OpenCV's BGR channel order
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	out := gocv.NewMat()
	defer out.Close()

	d.mu.Lock()
	if d.net == nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("detector is closed")
	}
	d.net.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))
	d.net.Detect(mat, &out)
	d.mu.Unlock()

	faces := make([]detector.Face, 0, out.Rows())
	row := make([]float32, rowSize)
	for r := 0; r < out.Rows(); r++ {
		for c := range row {
			row[c] = out.GetFloatAt(r, c)
		}
		faces = append(faces, decodeRow(row))
	}

	detector.SortByScore(faces)
	return faces, nil
}

// decodeRow reads x, y, w, h, right eye, left eye, nose tip, right mouth
// corner, left mouth corner, score
func decodeRow(row []float32) detector.Face {
	box := detector.BoundingBox{X1: row[0], Y1: row[1], X2: row[0] + row[2], Y2: row[1] + row[3]}
	rightEye := detector.Point{X: row[4], Y: row[5]}
	leftEye := detector.Point{X: row[6], Y: row[7]}
	nose := detector.Point{X: row[8], Y: row[9]}
	mouth := detector.Point{X: (row[10] + row[12]) / 2, Y: (row[11] + row[13]) / 2}

	return detector.Face{
		BoundingBox: box,
		Landmarks:   detector.SixPoint(box, rightEye, leftEye, nose, mouth),
		Score:       row[14],
	}
}

// Close releases detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.net == nil {
		return nil
	}
	d.net.Close()
	d.net = nil
	return nil
}
