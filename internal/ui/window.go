package ui

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/moodface/internal/pipeline"
)

// Key codes returned by WaitKey
const (
	KeyEscape = 27
	KeyQ      = 'q'
)

// Window manages the preview display
type Window struct {
	window *gocv.Window
	name   string
	shown  int
	total  int
}

// NewWindow creates a new preview window for total images
func NewWindow(name string, total int) *Window {
	window := gocv.NewWindow(name)
	// Force window to appear on macOS
	window.ResizeWindow(960, 720)
	window.MoveWindow(100, 100)
	return &Window{
		window: window,
		name:   name,
		total:  total,
	}
}

// Show renders res over img and displays it with a position counter
func (w *Window) Show(img image.Image, res pipeline.Result, source string) error {
	mat, err := Render(img, res)
	if err != nil {
		return err
	}
	defer mat.Close()

	w.shown++
	footer := fmt.Sprintf("%d/%d  %s", w.shown, w.total, source)
	gocv.PutText(&mat, footer, image.Pt(10, mat.Rows()-12),
		gocv.FontHersheyPlain, 1.2, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)

	w.window.IMShow(mat)
	return nil
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// Quit reports whether key asks to stop previewing
func Quit(key int) bool {
	return key == KeyEscape || key == KeyQ
}

// Close closes the window
func (w *Window) Close() error {
	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	return err
}
