// Package imageio loads still images from files, URLs and streams.
package imageio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// Extra decoders registered with image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// StdinName selects standard input as the image source
const StdinName = "-"

// MaxBytes caps how much image data is read from any source
const MaxBytes = 32 << 20

// ErrNotImage is returned for content that is not a supported image format
var ErrNotImage = errors.New("not a supported image")

// SupportedExts lists file extensions picked up from directories
var SupportedExts = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

var supportedMIME = []string{
	"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff", "image/webp",
}

// Image is a decoded image plus the detected MIME type
type Image struct {
	image.Image
	MIME   string
	Source string
}

// Decode reads, sniffs and decodes an image, applying EXIF orientation
func Decode(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxBytes)
	}
	return DecodeBytes(data)
}

// DecodeBytes sniffs and decodes an in-memory image
func DecodeBytes(data []byte) (*Image, error) {
	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), supportedMIME...) {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mtype.String())
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mtype.String(), err)
	}

	return &Image{Image: img, MIME: mtype.String()}, nil
}

// Open decodes an image file
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Source = path
	return img, nil
}

// Fetch downloads and decodes an image over http(s)
func Fetch(ctx context.Context, client *http.Client, rawURL string) (*Image, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL %s: %w", rawURL, err)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to download image file from URI %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unable to download image file from URI %s: status %s", rawURL, res.Status)
	}

	img, err := Decode(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rawURL, err)
	}
	img.Source = rawURL
	return img, nil
}

// Load opens src as stdin, a URL or a file path
func Load(ctx context.Context, src string) (*Image, error) {
	switch {
	case src == StdinName:
		img, err := Decode(os.Stdin)
		if err != nil {
			return nil, err
		}
		img.Source = "stdin"
		return img, nil
	case IsURL(src):
		return Fetch(ctx, nil, src)
	default:
		return Open(src)
	}
}

// IsURL reports whether s is an absolute http or https URL
func IsURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Expand turns directories in srcs into the supported images they contain.
// URLs, stdin and plain files are passed through in order.
func Expand(srcs []string) ([]string, error) {
	var out []string
	for _, src := range srcs {
		if src == StdinName || IsURL(src) {
			out = append(out, src)
			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, src)
			continue
		}

		var found []string
		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && supportedExt(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", src, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

func supportedExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExts {
		if e == ext {
			return true
		}
	}
	return false
}
