package detector

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/moodface/internal/inference"
)

const (
	blazeInputSize = 128
	blazeAnchors   = 896
	blazeValues    = 16 // box (4) + 6 keypoints (12)
)

// BlazeFaceConfig describes a BlazeFace short-range ONNX export
type BlazeFaceConfig struct {
	ModelPath     string
	InputName     string
	BoxesName     string
	ScoresName    string
	ChannelsFirst bool // NCHW input instead of NHWC
	ConfThreshold float32
	NMSThreshold  float32
	Session       inference.SessionOptions
}

// DefaultBlazeFaceConfig returns the usual tensor names and thresholds
func DefaultBlazeFaceConfig(modelPath string) BlazeFaceConfig {
	return BlazeFaceConfig{
		ModelPath:     modelPath,
		InputName:     "input",
		BoxesName:     "regressors",
		ScoresName:    "classificators",
		ConfThreshold: 0.75,
		NMSThreshold:  0.3,
	}
}

// BlazeFace implements the 6-keypoint BlazeFace detector. Its keypoints are
// already in the shared layout: eyes, nose, mouth, then the ear tragions as
// reference points.
type BlazeFace struct {
	mu            sync.Mutex
	session       *inference.Session
	anchors       []Point
	channelsFirst bool
	confThreshold float32
	nmsThreshold  float32
}

// NewBlazeFace creates a new BlazeFace detector
func NewBlazeFace(cfg BlazeFaceConfig) (*BlazeFace, error) {
	inputNames := []string{cfg.InputName}
	outputNames := []string{cfg.BoxesName, cfg.ScoresName}

	session, err := inference.NewSession(cfg.ModelPath, inputNames, outputNames, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create BlazeFace session: %w", err)
	}

	return &BlazeFace{
		session:       session,
		anchors:       blazeFaceAnchors(),
		channelsFirst: cfg.ChannelsFirst,
		confThreshold: cfg.ConfThreshold,
		nmsThreshold:  cfg.NMSThreshold,
	}, nil
}

// Ready reports whether the model session is open
func (b *BlazeFace) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil
}

// Locate finds faces in an image, best first
func (b *BlazeFace) Locate(ctx context.Context, img image.Image) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()

	inputData, scale := b.preprocess(img)

	shape := []int64{1, blazeInputSize, blazeInputSize, 3}
	if b.channelsFirst {
		shape = []int64{1, 3, blazeInputSize, blazeInputSize}
	}
	inputTensor, err := inference.CreateTensor(shape, inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	boxTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, blazeAnchors, blazeValues})
	if err != nil {
		return nil, fmt.Errorf("failed to create box tensor: %w", err)
	}
	defer boxTensor.Destroy()

	scoreTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, blazeAnchors, 1})
	if err != nil {
		return nil, fmt.Errorf("failed to create score tensor: %w", err)
	}
	defer scoreTensor.Destroy()

	b.mu.Lock()
	if b.session == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("detector is closed")
	}
	err = b.session.Run([]ort.Value{inputTensor}, []ort.Value{boxTensor, scoreTensor})
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	faces := decodeBlazeFace(boxTensor.GetData(), scoreTensor.GetData(), b.anchors, b.confThreshold, scale, origWidth, origHeight)
	return nms(faces, b.nmsThreshold), nil
}

// preprocess letterboxes the image into the top-left of a 128x128 canvas and
// scales pixels to [-1, 1]
func (b *BlazeFace) preprocess(img image.Image) ([]float32, float32) {
	bounds := img.Bounds()
	scale := float32(blazeInputSize) / float32(max(bounds.Dx(), bounds.Dy()))

	newWidth := max(1, int(float32(bounds.Dx())*scale))
	newHeight := max(1, int(float32(bounds.Dy())*scale))

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Linear)
	canvas := imaging.New(blazeInputSize, blazeInputSize, color.NRGBA{A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(0, 0))

	const plane = blazeInputSize * blazeInputSize
	data := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		px := canvas.Pix[i*4 : i*4+3]
		for c := 0; c < 3; c++ {
			v := float32(px[c])/127.5 - 1
			if b.channelsFirst {
				data[c*plane+i] = v
			} else {
				data[i*3+c] = v
			}
		}
	}

	return data, scale
}

// decodeBlazeFace turns raw regressors into faces in source image pixels
func decodeBlazeFace(boxes, scores []float32, anchors []Point, threshold, scale float32, origWidth, origHeight int) []Face {
	var faces []Face
	const size = float32(blazeInputSize)

	for i, anchor := range anchors {
		if i >= len(scores) || (i+1)*blazeValues > len(boxes) {
			break
		}

		score := sigmoid(clamp(scores[i], -100, 100))
		if score < threshold {
			continue
		}

		raw := boxes[i*blazeValues : (i+1)*blazeValues]
		cx := raw[0] + anchor.X*size
		cy := raw[1] + anchor.Y*size
		w, h := raw[2], raw[3]

		x1 := clamp((cx-w/2)/scale, 0, float32(origWidth))
		y1 := clamp((cy-h/2)/scale, 0, float32(origHeight))
		x2 := clamp((cx+w/2)/scale, 0, float32(origWidth))
		y2 := clamp((cy+h/2)/scale, 0, float32(origHeight))

		landmarks := make(Landmarks, NumLandmarks)
		for k := range landmarks {
			landmarks[k] = Point{
				X: (raw[4+2*k] + anchor.X*size) / scale,
				Y: (raw[5+2*k] + anchor.Y*size) / scale,
			}
		}

		faces = append(faces, Face{
			BoundingBox: BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
			Landmarks:   landmarks,
			Score:       score,
		})
	}

	return faces
}

// blazeFaceAnchors builds the 896 unit-size SSD anchor centres of the
// short-range model: 2 per cell on the 16x16 grid, then 6 per cell on 8x8.
func blazeFaceAnchors() []Point {
	layers := []struct {
		grid, perCell int
	}{
		{blazeInputSize / 8, 2},
		{blazeInputSize / 16, 6},
	}

	anchors := make([]Point, 0, blazeAnchors)
	for _, layer := range layers {
		for y := 0; y < layer.grid; y++ {
			for x := 0; x < layer.grid; x++ {
				center := Point{
					X: (float32(x) + 0.5) / float32(layer.grid),
					Y: (float32(y) + 0.5) / float32(layer.grid),
				}
				for a := 0; a < layer.perCell; a++ {
					anchors = append(anchors, center)
				}
			}
		}
	}
	return anchors
}

// Close releases detector resources
func (b *BlazeFace) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
