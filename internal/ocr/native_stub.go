//go:build !gosseract

package ocr

// nativeEngine is only available in builds tagged gosseract
func nativeEngine() (Engine, bool) {
	return nil, false
}
