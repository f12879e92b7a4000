// Package templates holds the named element descriptions editors drop
// onto a page. A Library starts from the built-in set, overlays every
// template file found under a directory and can follow that directory
// for edits.
package templates

import (
	"context"
	_ "embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagecraft/internal/builder"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/watcher"
)

//go:embed builtin.yaml
var builtinYAML []byte

// SourceBuiltin marks templates compiled into the binary.
const SourceBuiltin = "builtin"

// Template is one named description.
type Template struct {
	Name        string              `yaml:"name" json:"name"`
	Category    string              `yaml:"category,omitempty" json:"category,omitempty"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Element     builder.Description `yaml:"element" json:"element"`
	// Source is the file the template came from, or SourceBuiltin.
	Source string `yaml:"-" json:"source"`
}

// Title returns the display name, e.g. "Contact Form".
func (t Template) Title() string {
	return cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(t.Name))
}

// file is the on-disk shape: a list under `templates`, or one template.
type file struct {
	Templates []Template `yaml:"templates"`
}

// Library is safe for concurrent use.
type Library struct {
	dir    string
	logger logging.Logger

	mu        sync.RWMutex
	templates map[string]Template
	loaded    time.Time
}

// NewLibrary returns a library holding the built-in templates. Dir may be
// empty; Load then only refreshes the built-ins.
func NewLibrary(dir string, logger logging.Logger) *Library {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Library{
		dir:       dir,
		logger:    logger.WithComponent("templates"),
		templates: make(map[string]Template),
	}
	if set, err := parse(builtinYAML, SourceBuiltin); err == nil {
		for _, t := range set {
			l.templates[t.Name] = t
		}
	}
	return l
}

// Dir is the watched directory.
func (l *Library) Dir() string {
	return l.dir
}

// LoadedAt is when Load last completed; zero before the first Load.
func (l *Library) LoadedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Load rebuilds the library from the built-ins and the directory. Files
// that fail to parse are skipped and reported together; the rest are
// still loaded. A missing directory is not an error.
func (l *Library) Load(ctx context.Context) error {
	set := make(map[string]Template)
	builtins, err := parse(builtinYAML, SourceBuiltin)
	if err != nil {
		return errors.NewInternalError("parse built-in templates", err)
	}
	for _, t := range builtins {
		set[t.Name] = t
	}

	var failures []error
	if l.dir != "" {
		err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != l.dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !watcher.YAMLFilter(path) || !watcher.NoHiddenFilter(path) {
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				failures = append(failures, errors.NewStorageError("read "+path, err))
				return nil
			}
			templates, err := parse(data, path)
			if err != nil {
				failures = append(failures, err)
				return nil
			}
			for _, t := range templates {
				if prev, ok := set[t.Name]; ok && prev.Source != SourceBuiltin {
					failures = append(failures, errors.NewInvalidDescription("%s: template %q already defined in %s", path, t.Name, prev.Source))
					continue
				}
				set[t.Name] = t
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return errors.NewStorageError("scan template directory", err)
		}
	}

	l.mu.Lock()
	l.templates = set
	l.loaded = time.Now()
	l.mu.Unlock()

	l.logger.Info(ctx, "templates loaded", "dir", l.dir, "count", len(set), "failed", len(failures))
	return errors.Join(failures...)
}

// Template implements the dispatcher's template lookup.
func (l *Library) Template(name string) (builder.Description, bool) {
	t, ok := l.Get(name)
	if !ok {
		return builder.Description{}, false
	}
	return t.Element, true
}

// Get returns a template by name.
func (l *Library) Get(name string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	return t, ok
}

// List returns every template ordered by category, then name.
func (l *Library) List() []Template {
	l.mu.RLock()
	out := make([]Template, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, t)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Register adds or replaces one template after validating it.
func (l *Library) Register(t Template) error {
	if err := check(t); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.Name] = t
	return nil
}

// Watch reloads the library whenever a template file under the directory
// changes. It blocks until ctx ends.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if l.dir == "" {
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return errors.NewStorageError("create template directory", err)
	}

	fw, err := watcher.NewFileWatcher(debounce, l.logger)
	if err != nil {
		return errors.NewInternalError("start template watcher", err)
	}
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(func(path string) bool {
		// Directories have no extension; let them through so new ones get watched.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return true
		}
		return watcher.YAMLFilter(path)
	})
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, e := range events {
			l.logger.Debug(ctx, "template file changed", "path", e.Path, "type", e.Type)
		}
		return l.Load(ctx)
	})
	if err := fw.AddRecursive(l.dir); err != nil {
		fw.Stop()
		return errors.NewStorageError("watch template directory", err)
	}
	return fw.Run(ctx)
}

func parse(data []byte, source string) ([]Template, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewInvalidDescription("%s: %v", source, err)
	}
	if len(f.Templates) == 0 {
		var single Template
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, errors.NewInvalidDescription("%s: %v", source, err)
		}
		if single.Name == "" && single.Element.Kind == "" {
			return nil, nil
		}
		f.Templates = []Template{single}
	}

	seen := make(map[string]bool, len(f.Templates))
	for i := range f.Templates {
		t := &f.Templates[i]
		t.Source = source
		if err := check(*t); err != nil {
			return nil, errors.NewInvalidDescription("%s: %v", source, err)
		}
		if seen[t.Name] {
			return nil, errors.NewInvalidDescription("%s: template %q defined twice", source, t.Name)
		}
		seen[t.Name] = true
	}
	return f.Templates, nil
}

// check validates a template by building it once with throwaway ids.
func check(t Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.NewInvalidDescription("template without a name")
	}
	b := builder.New(&builder.SequenceSource{Prefix: "check-"})
	if _, err := b.Build(t.Element, "", "templates"); err != nil {
		return errors.NewInvalidDescription("template %q: %v", t.Name, err)
	}
	return nil
}
