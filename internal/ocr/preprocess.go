package ocr

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/nfnt/resize"
)

// Prepare upscales, binarizes and pads a crop so small UI fonts survive recognition
func Prepare(src image.Image, p Preprocess) image.Image {
	img := src
	if p.Scale > 1 {
		b := src.Bounds()
		img = resize.Resize(uint(b.Dx())*p.Scale, uint(b.Dy())*p.Scale, src, resize.Bicubic)
	}

	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if p.Threshold > 0 {
				bright := g.Y > p.Threshold
				// text ends up black on white either way
				if bright == p.Invert {
					g.Y = 0
				} else {
					g.Y = 255
				}
			}
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, g)
		}
	}

	if p.Padding <= 0 {
		return gray
	}

	padded := image.NewGray(image.Rect(0, 0, gray.Bounds().Dx()+2*p.Padding, gray.Bounds().Dy()+2*p.Padding))
	draw.Draw(padded, padded.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(padded, gray.Bounds().Add(image.Point{X: p.Padding, Y: p.Padding}), gray, image.Point{}, draw.Src)
	return padded
}

// writeTempPNG encodes img into a temp file and returns its path
func writeTempPNG(dir string, img image.Image) (string, error) {
	f, err := os.CreateTemp(dir, "ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create temp image: %w", err)
	}
	path := f.Name()

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close temp image: %w", err)
	}
	return path, nil
}
