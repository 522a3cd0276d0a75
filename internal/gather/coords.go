package gather

import (
	"fmt"
	"image"
)

// Reference resolution the fallback coordinates and OCR regions were measured at
const (
	ReferenceWidth  = 720
	ReferenceHeight = 1280
)

// Fallback tap targets, used when the matching template is not found
var (
	CoordWorldToggle   = image.Pt(650, 1220) // city/world switch, bottom right
	CoordQueuePanel    = image.Pt(40, 720)   // march queue tab, left edge
	CoordPanelClose    = image.Pt(680, 160)
	CoordSearch        = image.Pt(60, 1050)
	CoordSliderPlus    = image.Pt(620, 980)
	CoordLevelMinus    = image.Pt(200, 900)
	CoordLevelPlus     = image.Pt(520, 900)
	CoordSearchGo      = image.Pt(360, 1080)
	CoordDeploy        = image.Pt(560, 1200)
	CoordDetailsClose  = image.Pt(680, 200)
	CoordListSwipeFrom = image.Pt(620, 1180)
	CoordListSwipeTo   = image.Pt(120, 1180)
)

// CoordSlotRow is the details button of each queue row on the open panel, slots 1..6
var CoordSlotRow = [6]image.Point{
	image.Pt(640, 300),
	image.Pt(640, 420),
	image.Pt(640, 540),
	image.Pt(640, 660),
	image.Pt(640, 780),
	image.Pt(640, 900),
}

// OCR regions. The queue panel crop stops short of the row icons.
var (
	RegionQueuePanel = image.Rect(110, 240, 560, 960)
	RegionMarchTime  = image.Rect(470, 1110, 650, 1150)
	RegionGatherTime = image.Rect(260, 560, 460, 600)
)

// Layout scales reference coordinates to the device screen
type Layout struct {
	Width  int
	Height int
}

// ReferenceLayout is the identity layout
func ReferenceLayout() Layout {
	return Layout{Width: ReferenceWidth, Height: ReferenceHeight}
}

// Validate ensures the layout has a usable size
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("invalid layout %dx%d", l.Width, l.Height)
	}
	return nil
}

// ScaleFactors returns the X and Y scale factors from the reference resolution
func (l Layout) ScaleFactors() (float64, float64) {
	if l.Validate() != nil {
		return 1, 1
	}
	return float64(l.Width) / ReferenceWidth, float64(l.Height) / ReferenceHeight
}

// Point translates a reference point
func (l Layout) Point(p image.Point) image.Point {
	sx, sy := l.ScaleFactors()
	return image.Pt(int(float64(p.X)*sx), int(float64(p.Y)*sy))
}

// Rect translates a reference rectangle
func (l Layout) Rect(r image.Rectangle) image.Rectangle {
	return image.Rectangle{Min: l.Point(r.Min), Max: l.Point(r.Max)}
}

func (l Layout) String() string {
	sx, sy := l.ScaleFactors()
	return fmt.Sprintf("Layout{%dx%d, scale %.3f x %.3f}", l.Width, l.Height, sx, sy)
}
