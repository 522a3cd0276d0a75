package cv

// Template describes a reference image and where to look for it
type Template struct {
	Name      string
	Path      string
	Threshold float64
	Region    *Region // optional search region, in reference coordinates when the matcher has a reference size
}

// InRegion sets the search region for the template
func (t Template) InRegion(x1, y1, x2, y2 int) Template {
	region := NewRegion(x1, y1, x2, y2)
	t.Region = &region
	return t
}

// WithThreshold sets the default matching threshold
func (t Template) WithThreshold(threshold float64) Template {
	t.Threshold = threshold
	return t
}
