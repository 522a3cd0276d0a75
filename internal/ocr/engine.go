package ocr

import (
	"context"
	"errors"
)

// ErrEngineUnavailable is returned when no recognizer binary or library can be used
var ErrEngineUnavailable = errors.New("ocr engine unavailable")

// Request describes one recognition pass over an image file
type Request struct {
	Config    Config
	Whitelist string
	Language  string
}

// Engine runs a single recognition pass. Implementations wrap tesseract either
// as a subprocess or through cgo bindings.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string, req Request) (string, error)
}

// NewEngine selects an engine by name: "gosseract" uses the in-process binding when
// compiled in, anything else shells out to the tesseract binary at path.
func NewEngine(name, path string) Engine {
	if name == "gosseract" {
		if e, ok := nativeEngine(); ok {
			return e
		}
	}
	return NewTesseractCLI(path)
}
