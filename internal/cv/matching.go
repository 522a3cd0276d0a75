package cv

import (
	"errors"
	"image"
	"math"
)

// ErrTemplateTooLarge is returned when the template does not fit the search area
var ErrTemplateTooLarge = errors.New("template larger than search area")

// MatchResult contains template matching results
type MatchResult struct {
	Found      bool
	Location   image.Point // top-left corner of the best window
	Confidence float64
}

// MatchConfig configures template matching
type MatchConfig struct {
	Threshold    float64          // 0.0-1.0, higher = more strict
	SearchRegion *image.Rectangle // Optional: limit search area
	Stride       int              // coarse scan step, refined around the best hit; 0 or 1 = exhaustive
}

// grayPlane is a single-channel float copy of an image with summed-area tables
// for O(1) window sums.
type grayPlane struct {
	w, h  int
	pix   []float64
	sum   []float64 // (w+1)*(h+1)
	sumSq []float64
}

func newGrayPlane(img *image.RGBA, rect image.Rectangle) *grayPlane {
	rect = rect.Intersect(img.Bounds())
	w, h := rect.Dx(), rect.Dy()
	p := &grayPlane{
		w:     w,
		h:     h,
		pix:   make([]float64, w*h),
		sum:   make([]float64, (w+1)*(h+1)),
		sumSq: make([]float64, (w+1)*(h+1)),
	}

	for y := 0; y < h; y++ {
		off := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		var rowSum, rowSq float64
		for x := 0; x < w; x++ {
			i := off + x*4
			// Luminance formula
			v := (float64(img.Pix[i])*299 + float64(img.Pix[i+1])*587 + float64(img.Pix[i+2])*114) / 1000
			p.pix[y*w+x] = v
			rowSum += v
			rowSq += v * v
			p.sum[(y+1)*(w+1)+x+1] = p.sum[y*(w+1)+x+1] + rowSum
			p.sumSq[(y+1)*(w+1)+x+1] = p.sumSq[y*(w+1)+x+1] + rowSq
		}
	}
	return p
}

// windowSums returns the sum and sum of squares of a w×h window at (x,y)
func (p *grayPlane) windowSums(x, y, w, h int) (float64, float64) {
	stride := p.w + 1
	a := y*stride + x
	b := y*stride + x + w
	c := (y+h)*stride + x
	d := (y+h)*stride + x + w
	return p.sum[d] - p.sum[b] - p.sum[c] + p.sum[a],
		p.sumSq[d] - p.sumSq[b] - p.sumSq[c] + p.sumSq[a]
}

// needle is a template prepared for NCC: zero-mean values and their norm
type needle struct {
	w, h int
	zm   []float64
	norm float64
}

func newNeedle(img *image.RGBA) *needle {
	plane := newGrayPlane(img, img.Bounds())
	n := &needle{w: plane.w, h: plane.h, zm: make([]float64, len(plane.pix))}
	if len(plane.pix) == 0 {
		return n
	}

	var mean float64
	for _, v := range plane.pix {
		mean += v
	}
	mean /= float64(len(plane.pix))

	var sq float64
	for i, v := range plane.pix {
		n.zm[i] = v - mean
		sq += n.zm[i] * n.zm[i]
	}
	n.norm = math.Sqrt(sq)
	return n
}

// ncc computes the normalized cross-correlation of the needle at (x,y), clamped to [0,1].
// Anti-correlation counts as no match.
func (n *needle) ncc(hay *grayPlane, x, y int) float64 {
	if n.norm == 0 {
		return 0
	}
	count := float64(n.w * n.h)
	sumH, sumHH := hay.windowSums(x, y, n.w, n.h)
	variance := sumHH - sumH*sumH/count
	if variance <= 1e-9 {
		return 0
	}

	var cross float64
	for ny := 0; ny < n.h; ny++ {
		row := hay.pix[(y+ny)*hay.w+x : (y+ny)*hay.w+x+n.w]
		zrow := n.zm[ny*n.w : (ny+1)*n.w]
		for nx, v := range row {
			cross += v * zrow[nx]
		}
	}

	c := cross / (math.Sqrt(variance) * n.norm)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// findPrepared finds the best NCC match of a prepared template inside haystack
func findPrepared(haystack *image.RGBA, n *needle, config *MatchConfig) (*MatchResult, error) {
	// Determine search area
	searchBounds := haystack.Bounds()
	if config.SearchRegion != nil {
		searchBounds = config.SearchRegion.Intersect(searchBounds)
	}
	if n.w == 0 || n.h == 0 || n.w > searchBounds.Dx() || n.h > searchBounds.Dy() {
		return &MatchResult{Found: false}, ErrTemplateTooLarge
	}

	hay := newGrayPlane(haystack, searchBounds)
	maxX := hay.w - n.w
	maxY := hay.h - n.h

	stride := config.Stride
	if stride < 1 {
		stride = 1
	}

	bestScore := -1.0
	best := image.Point{}
	scan := func(x0, y0, x1, y1, step int) {
		for y := y0; y <= y1; y += step {
			for x := x0; x <= x1; x += step {
				if score := n.ncc(hay, x, y); score > bestScore {
					bestScore = score
					best = image.Point{X: x, Y: y}
				}
			}
		}
	}

	scan(0, 0, maxX, maxY, stride)
	if stride > 1 {
		// refine around the coarse hit
		scan(max(0, best.X-stride), max(0, best.Y-stride), min(maxX, best.X+stride), min(maxY, best.Y+stride), 1)
	}

	if bestScore < 0 {
		bestScore = 0
	}

	return &MatchResult{
		Found:      bestScore >= config.Threshold,
		Location:   best.Add(searchBounds.Min),
		Confidence: bestScore,
	}, nil
}

// CropRegion copies a rectangle of img into a new image with origin (0,0)
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		src := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+rect.Dx()*4], img.Pix[src:src+rect.Dx()*4])
	}
	return out
}

// ToRGBA converts any image to *image.RGBA
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}
