package templates

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"jordanella.com/gather-bot/internal/cv"
	"jordanella.com/gather-bot/internal/logging"
)

// DefaultThreshold applies to templates declared without one
const DefaultThreshold = 0.8

// Registry holds named templates loaded from YAML files. It satisfies
// cv.TemplateSource, loading images lazily through its cache.
type Registry struct {
	mu         sync.RWMutex
	templates  map[string]cv.Template
	basePath   string
	imageCache *ImageCache
	log        *logging.Logger
}

// Definition is one template entry in a YAML file
type Definition struct {
	Name      string     `yaml:"name"`
	Path      string     `yaml:"path"`
	Threshold float64    `yaml:"threshold"`
	Region    *RegionDef `yaml:"region,omitempty"`
	Preload   bool       `yaml:"preload,omitempty"`
}

// RegionDef represents a region in the YAML file
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// File is the layout of a template YAML file
type File struct {
	Templates []Definition `yaml:"templates"`
}

// NewRegistry creates a registry; image paths are resolved against basePath
func NewRegistry(basePath string) *Registry {
	return &Registry{
		templates:  make(map[string]cv.Template),
		basePath:   basePath,
		imageCache: NewImageCache(),
		log:        logging.NewLogger("templates"),
	}
}

// WithLogger replaces the logger
func (r *Registry) WithLogger(l *logging.Logger) *Registry {
	r.log = l
	return r
}

// LoadFromFile loads templates from a YAML file
func (r *Registry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}
	return r.LoadYAML(data)
}

// LoadYAML parses template definitions and registers them. Definitions are
// validated before any are registered.
func (r *Registry) LoadYAML(data []byte) error {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	parsed := make([]cv.Template, 0, len(file.Templates))
	preload := make(map[string]bool)
	for i, def := range file.Templates {
		if def.Name == "" {
			return fmt.Errorf("template %d: name cannot be empty", i+1)
		}
		if def.Path == "" {
			return fmt.Errorf("template %d (%s): path cannot be empty", i+1, def.Name)
		}
		if def.Threshold < 0 || def.Threshold > 1 {
			return fmt.Errorf("template %d (%s): threshold %.2f outside [0,1]", i+1, def.Name, def.Threshold)
		}

		tmpl := cv.Template{
			Name:      def.Name,
			Path:      r.resolve(def.Path),
			Threshold: def.Threshold,
		}
		if tmpl.Threshold == 0 {
			tmpl.Threshold = DefaultThreshold
		}
		if def.Region != nil {
			region := cv.NewRegion(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
			if region.Width() <= 0 || region.Height() <= 0 {
				return fmt.Errorf("template %d (%s): empty region", i+1, def.Name)
			}
			tmpl.Region = &region
		}
		parsed = append(parsed, tmpl)
		preload[def.Name] = def.Preload
	}

	for _, tmpl := range parsed {
		if err := r.Register(tmpl); err != nil {
			return err
		}
		if preload[tmpl.Name] {
			if _, err := r.imageCache.Get(tmpl.Name); err != nil {
				// still loadable on demand
				r.log.WarnWithContext("Template preload failed", map[string]interface{}{
					"template": tmpl.Name,
					"error":    err.Error(),
				})
			}
		}
	}
	return nil
}

// LoadFromDirectory loads all YAML files from a directory
func (r *Registry) LoadFromDirectory(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", dirPath, err)
	}

	var loadErrors []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.LoadFromFile(filepath.Join(dirPath, entry.Name())); err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("file %s: %w", entry.Name(), err))
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d template files (first error): %w", len(loadErrors), loadErrors[0])
	}

	r.log.InfoWithContext("Templates loaded", map[string]interface{}{
		"dir":   dirPath,
		"count": r.Count(),
	})
	return nil
}

func (r *Registry) resolve(path string) string {
	if filepath.IsAbs(path) || r.basePath == "" {
		return path
	}
	return filepath.Join(r.basePath, path)
}

// Get retrieves a template by name
func (r *Registry) Get(name string) (cv.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, ok := r.templates[name]
	return tmpl, ok
}

// Image returns the decoded image for a registered template
func (r *Registry) Image(name string) (*image.RGBA, error) {
	if !r.Has(name) {
		return nil, fmt.Errorf("template '%s' not found in registry", name)
	}
	return r.imageCache.Get(name)
}

// Register adds or replaces a template
func (r *Registry) Register(tmpl cv.Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	r.mu.Lock()
	r.templates[tmpl.Name] = tmpl
	r.mu.Unlock()

	r.imageCache.Register(tmpl.Name, tmpl.Path)
	return nil
}

// RegisterImage adds a template backed by an in-memory image
func (r *Registry) RegisterImage(tmpl cv.Template, img *image.RGBA) error {
	if err := r.Register(tmpl); err != nil {
		return err
	}
	r.imageCache.Put(tmpl.Name, img)
	return nil
}

// Has checks if a template exists in the registry
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.templates[name]
	return ok
}

// List returns all template names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of templates in the registry
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Remove removes a template and its cached image
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, ok := r.templates[name]
	delete(r.templates, name)
	r.mu.Unlock()

	if ok {
		r.imageCache.Forget(name)
	}
	return ok
}

// Reload drops cached images so the next lookup reads from disk again
func (r *Registry) Reload() {
	r.imageCache.UnloadAll()
}

// CacheStats returns image cache statistics
func (r *Registry) CacheStats() CacheStats {
	return r.imageCache.Stats()
}
