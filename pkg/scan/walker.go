package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	config "github.com/mwantia/goassets/internal/config/server"
	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/log"
)

// Root is one of the three independent scan namespaces.
type Root string

const (
	RootModels Root = "models"
	RootInput  Root = "input"
	RootOutput Root = "output"
)

// AllRoots lists every scan namespace in a stable order.
var AllRoots = []Root{RootModels, RootInput, RootOutput}

// ParseRoot validates a root name.
func ParseRoot(name string) (Root, error) {
	switch Root(strings.ToLower(strings.TrimSpace(name))) {
	case RootModels:
		return RootModels, nil
	case RootInput:
		return RootInput, nil
	case RootOutput:
		return RootOutput, nil
	}
	return "", fmt.Errorf("unknown root %q", name)
}

// Walker enumerates candidate files under the configured root namespaces and
// derives canonical (name, tags) pairs from their paths.
type Walker struct {
	cfg config.RootsServerConfig
	log log.LoggerService
}

func NewWalker(cfg config.RootsServerConfig, logger log.LoggerService) *Walker {
	return &Walker{
		cfg: cfg,
		log: logger,
	}
}

// Categories returns the model category registry with absolute base paths.
// An empty configured registry falls back to the default category set under
// the models directory.
func (w *Walker) Categories() map[string][]string {
	out := make(map[string][]string)
	if len(w.cfg.Categories) > 0 {
		for name, bases := range w.cfg.Categories {
			for _, b := range bases {
				if abs, err := filepath.Abs(b); err == nil {
					out[name] = append(out[name], abs)
				}
			}
		}
		return out
	}
	modelsRoot, err := filepath.Abs(w.cfg.ModelsDir)
	if err != nil {
		return out
	}
	for _, name := range config.DefaultModelCategories {
		out[name] = []string{filepath.Join(modelsRoot, name)}
	}
	return out
}

// PrefixesFor returns the absolute directory prefixes that legally belong to
// a root. For models this is one prefix per registered category base.
func (w *Walker) PrefixesFor(root Root) []string {
	switch root {
	case RootModels:
		var prefixes []string
		for _, bases := range w.Categories() {
			prefixes = append(prefixes, bases...)
		}
		sort.Strings(prefixes)
		return prefixes
	case RootInput:
		if abs, err := filepath.Abs(w.cfg.InputDir); err == nil {
			return []string{abs}
		}
	case RootOutput:
		if abs, err := filepath.Abs(w.cfg.OutputDir); err == nil {
			return []string{abs}
		}
	}
	return nil
}

// AllPrefixes returns the known prefixes across every root.
func (w *Walker) AllPrefixes() []string {
	var prefixes []string
	for _, root := range AllRoots {
		prefixes = append(prefixes, w.PrefixesFor(root)...)
	}
	return prefixes
}

// CollectPaths recursively enumerates eligible files under a root. Zero-byte
// files are excluded; for models, paths whose resolved location escapes every
// registered category base are rejected.
func (w *Walker) CollectPaths(root Root) []string {
	var out []string
	for _, prefix := range w.PrefixesFor(root) {
		err := filepath.WalkDir(prefix, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				w.log.Debug("Walk error at %s: %v", path, err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.Size() == 0 {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil
			}
			if root == RootModels && !w.resolvesUnderCategoryBase(abs) {
				w.log.Debug("Skipping %s: escapes registered model bases", abs)
				return nil
			}
			out = append(out, abs)
			return nil
		})
		if err != nil {
			w.log.Warn("Failed to walk %s: %v", prefix, err)
		}
	}
	return out
}

// resolvesUnderCategoryBase checks that the fully resolved path still lies
// under a registered category base, rejecting symlink escapes.
func (w *Walker) resolvesUnderCategoryBase(path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	for _, bases := range w.Categories() {
		for _, base := range bases {
			resolvedBase, err := filepath.EvalSymlinks(base)
			if err != nil {
				continue
			}
			if isWithin(resolved, resolvedBase) {
				return true
			}
		}
	}
	return false
}

func isWithin(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Classify determines which root a path belongs to, returning the root, the
// model category ("" for input/output) and the path relative to its base.
// The deepest matching base wins when categories overlap.
func (w *Walker) Classify(path string) (Root, string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid path %q: %w", path, err)
	}

	for _, root := range []Root{RootInput, RootOutput} {
		for _, base := range w.PrefixesFor(root) {
			if isWithin(abs, base) {
				rel, _ := filepath.Rel(base, abs)
				return root, "", rel, nil
			}
		}
	}

	bestLen := -1
	var bestCategory, bestRel string
	for category, bases := range w.Categories() {
		for _, base := range bases {
			if !isWithin(abs, base) {
				continue
			}
			if len(base) > bestLen {
				rel, _ := filepath.Rel(base, abs)
				bestLen = len(base)
				bestCategory = category
				bestRel = rel
			}
		}
	}
	if bestLen >= 0 {
		return RootModels, bestCategory, bestRel, nil
	}

	return "", "", "", fmt.Errorf("path outside all configured prefixes: %s", path)
}

// NameAndTags derives the canonical display name (final path segment) and
// ordered tag list ([root/category, parent segments...]) for a path.
func (w *Walker) NameAndTags(path string) (string, []string, error) {
	root, category, rel, err := w.Classify(path)
	if err != nil {
		return "", nil, err
	}

	tags := []string{string(root)}
	if root == RootModels {
		tags = append(tags, category)
	}
	dir := filepath.Dir(rel)
	if dir != "." {
		tags = append(tags, strings.Split(dir, string(filepath.Separator))...)
	}

	return filepath.Base(rel), models.NormalizeTags(tags), nil
}

// RelativeFilename computes the display path relative to the classified base
// using forward slashes, or "" when the path cannot be classified.
func (w *Walker) RelativeFilename(path string) string {
	_, _, rel, err := w.Classify(path)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}
