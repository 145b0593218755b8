package detector

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

// PigoConfig describes the pure Go cascade detector
type PigoConfig struct {
	FaceCascade   string
	PuplocCascade string // optional; eye positions are estimated without it
	MinSize       int
	MaxSize       int // zero means the larger image side
	ShiftFactor   float64
	ScaleFactor   float64
	IoUThreshold  float64
	MinQuality    float32
}

// DefaultPigoConfig returns pigo's usual scan parameters
func DefaultPigoConfig(faceCascade string) PigoConfig {
	return PigoConfig{
		FaceCascade:  faceCascade,
		MinSize:      20,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinQuality:   5.0,
	}
}

// Pigo finds faces with pigo's pixel-intensity cascades. It needs no native
// libraries. Nose and mouth positions are proportional estimates inside the
// detection square.
type Pigo struct {
	cfg    PigoConfig
	faces  *pigo.Pigo
	puploc *pigo.PuplocCascade
}

// NewPigo loads the cascade files
func NewPigo(cfg PigoConfig) (*Pigo, error) {
	data, err := os.ReadFile(cfg.FaceCascade)
	if err != nil {
		return nil, fmt.Errorf("failed to read face cascade: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face cascade: %w", err)
	}

	p := &Pigo{cfg: cfg, faces: classifier}

	if cfg.PuplocCascade != "" {
		data, err := os.ReadFile(cfg.PuplocCascade)
		if err != nil {
			return nil, fmt.Errorf("failed to read puploc cascade: %w", err)
		}
		plc, err := pigo.NewPuplocCascade().UnpackCascade(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack puploc cascade: %w", err)
		}
		p.puploc = plc
	}

	return p, nil
}

// Ready reports whether the face cascade is loaded
func (p *Pigo) Ready() bool {
	return p.faces != nil
}

// Locate finds faces in an image, best first
func (p *Pigo) Locate(ctx context.Context, img image.Image) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()

	maxSize := p.cfg.MaxSize
	if maxSize <= 0 {
		maxSize = max(cols, rows)
	}

	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(img),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	cParams := pigo.CascadeParams{
		MinSize:     p.cfg.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: p.cfg.ShiftFactor,
		ScaleFactor: p.cfg.ScaleFactor,
		ImageParams: imgParams,
	}

	dets := p.faces.RunCascade(cParams, 0.0)
	dets = p.faces.ClusterDetections(dets, p.cfg.IoUThreshold)

	faces := make([]Face, 0, len(dets))
	for _, det := range dets {
		if det.Q < p.cfg.MinQuality {
			continue
		}
		faces = append(faces, p.face(det, imgParams))
	}

	SortByScore(faces)
	return faces, nil
}

// face converts a detection square into the shared landmark layout
func (p *Pigo) face(det pigo.Detection, imgParams pigo.ImageParams) Face {
	scale := float32(det.Scale)
	row, col := float32(det.Row), float32(det.Col)

	box := BoundingBox{
		X1: col - scale/2,
		Y1: row - scale/2,
		X2: col + scale/2,
		Y2: row + scale/2,
	}

	// Image-left eye is the subject's right eye
	rightEye := Point{X: col - 0.175*scale, Y: row - 0.075*scale}
	leftEye := Point{X: col + 0.175*scale, Y: row - 0.075*scale}

	if p.puploc != nil {
		rightEye = p.pupil(rightEye, scale, imgParams)
		leftEye = p.pupil(leftEye, scale, imgParams)
	}

	nose := Point{X: col, Y: row + 0.05*scale}
	mouth := Point{X: col, Y: row + 0.25*scale}

	return Face{
		BoundingBox: box,
		Landmarks:   SixPoint(box, rightEye, leftEye, nose, mouth),
		Score:       det.Q,
	}
}

// pupil refines an eye estimate with the puploc cascade, keeping the
// estimate when the cascade wanders off the image.
func (p *Pigo) pupil(guess Point, scale float32, imgParams pigo.ImageParams) Point {
	loc := pigo.Puploc{
		Row:      int(guess.Y),
		Col:      int(guess.X),
		Scale:    scale * 0.25,
		Perturbs: 63,
	}

	found := p.puploc.RunDetector(loc, imgParams, 0.0, false)
	if found == nil || found.Row <= 0 || found.Col <= 0 || found.Row >= imgParams.Rows || found.Col >= imgParams.Cols {
		return guess
	}
	return Point{X: float32(found.Col), Y: float32(found.Row)}
}

// Close is a no-op; cascades live in memory only
func (p *Pigo) Close() error {
	return nil
}
