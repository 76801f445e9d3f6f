package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/bmp"

	"github.com/doscope/doscope/go/models"
)

// ToPNG re-encodes a backend-native screenshot (qemu PPM or dosbox BMP)
// as PNG. A PNG input passes through untouched.
func ToPNG(shot *models.Screenshot) (*models.Screenshot, error) {
	var img image.Image
	var err error
	switch shot.Format {
	case "png":
		return shot, nil
	case "ppm":
		img, err = decodePPM(bytes.NewReader(shot.Data))
	case "bmp":
		img, err = bmp.Decode(bytes.NewReader(shot.Data))
	default:
		return nil, models.Argumentf("unknown screenshot format %q", shot.Format)
	}
	if err != nil {
		return nil, models.Protocolf(err, "decoding %s screenshot", shot.Format)
	}
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, err
	}
	return &models.Screenshot{Data: out.Bytes(), Format: "png"}, nil
}

// decodePPM reads binary P6 with 8-bit samples, which is the only
// flavor qemu's screendump emits.
func decodePPM(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	magic, err := ppmToken(br)
	if err != nil || magic != "P6" {
		return nil, fmt.Errorf("not a P6 ppm (magic %q)", magic)
	}
	var dims [3]int
	for i := range dims {
		tok, err := ppmToken(br)
		if err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(tok, "%d", &dims[i]); err != nil {
			return nil, fmt.Errorf("bad ppm header token %q", tok)
		}
	}
	w, h, maxval := dims[0], dims[1], dims[2]
	if w <= 0 || h <= 0 || maxval != 255 {
		return nil, fmt.Errorf("unsupported ppm geometry %dx%d max %d", w, h, maxval)
	}
	pixels := make([]byte, w*h*3)
	if _, err := io.ReadFull(br, pixels); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.SetRGBA(i%w, i/w, color.RGBA{
			R: pixels[i*3], G: pixels[i*3+1], B: pixels[i*3+2], A: 255,
		})
	}
	return img, nil
}

// ppmToken returns the next whitespace-delimited header token, skipping
// '#' comments.
func ppmToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch {
		case b == '#':
			if _, err := r.ReadBytes('\n'); err != nil {
				return "", err
			}
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}
