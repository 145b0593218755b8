package imageio

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeBytes(t *testing.T) {
	img, err := DecodeBytes(encodePNG(t, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIME)
	assert.Equal(t, image.Rect(0, 0, 7, 5), img.Bounds())
}

func TestDecodeBytes_OtherFormats(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 3))

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, nil))
	img, err := DecodeBytes(jpg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIME)

	var bm bytes.Buffer
	require.NoError(t, bmp.Encode(&bm, src))
	img, err = DecodeBytes(bm.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "image/bmp", img.MIME)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestDecodeBytes_NotImage(t *testing.T) {
	_, err := DecodeBytes([]byte("just some text, not pixels"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = DecodeBytes([]byte("%PDF-1.4\n"))
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestDecodeBytes_Truncated(t *testing.T) {
	data := encodePNG(t, 20, 20)
	_, err := DecodeBytes(data[:40])
	assert.Error(t, err)
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/face.jpg", true},
		{"http://localhost:8080/x.png", true},
		{"ftp://example.com/x.png", false},
		{"/tmp/face.jpg", false},
		{"face.jpg", false},
		{"-", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsURL(tt.in), tt.in)
	}
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	for _, name := range []string{"b.png", "a.JPG", "notes.txt", "nested/c.webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	got, err := Expand([]string{"https://example.com/x.png", dir, StdinName})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/x.png",
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "nested", "c.webp"),
		StdinName,
	}, got)

	_, err = Expand([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 3, 3), 0o644))

	img, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, img.Source)
}

func TestFetch(t *testing.T) {
	data := encodePNG(t, 9, 9)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	img, err := Fetch(context.Background(), srv.Client(), srv.URL+"/face.png")
	require.NoError(t, err)
	assert.Equal(t, 9, img.Bounds().Dx())
	assert.Equal(t, srv.URL+"/face.png", img.Source)

	_, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing.png")
	assert.ErrorContains(t, err, "404")
}
