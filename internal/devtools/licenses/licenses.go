// Package licenses lists the licenses of a module's dependencies and checks
// them against a file of acceptable licenses.
//
// The acceptable-licenses file is a JSON object mapping lower-cased module
// paths to the license names allowed for them:
//
//	{
//	  "github.com/spf13/cobra": ["apache-2.0"]
//	}
package licenses

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"golang.org/x/sync/errgroup"
)

// DefaultFile is the acceptable-licenses file name.
const DefaultFile = "acceptable-licenses.json"

// Inventory maps lower-cased module paths to their sorted license names.
type Inventory map[string][]string

// Requirements parses a go.mod file and returns every required module,
// direct and indirect.
func Requirements(gomodPath string) ([]module.Version, error) {
	data, err := os.ReadFile(gomodPath)
	if err != nil {
		return nil, fmt.Errorf("read go.mod: %w", err)
	}
	f, err := modfile.Parse(gomodPath, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}
	out := make([]module.Version, 0, len(f.Require))
	for _, req := range f.Require {
		out = append(out, req.Mod)
	}
	return out, nil
}

// ModuleCache returns the module cache directory: GOMODCACHE, else
// GOPATH/pkg/mod, else ~/go/pkg/mod.
func ModuleCache() (string, error) {
	if dir := os.Getenv("GOMODCACHE"); dir != "" {
		return dir, nil
	}
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		gopath = filepath.Join(home, "go")
	}
	// GOPATH may list several entries; the cache lives under the first.
	gopath = filepath.SplitList(gopath)[0]
	return filepath.Join(gopath, "pkg", "mod"), nil
}

// ModuleDir is where mod is extracted inside cacheDir.
func ModuleDir(cacheDir string, mod module.Version) (string, error) {
	p, err := module.EscapePath(mod.Path)
	if err != nil {
		return "", fmt.Errorf("escape module path: %w", err)
	}
	v, err := module.EscapeVersion(mod.Version)
	if err != nil {
		return "", fmt.Errorf("escape version: %w", err)
	}
	return filepath.Join(cacheDir, p+"@"+v), nil
}

// Scanner builds an Inventory from a go.mod file and the module cache.
type Scanner struct {
	CacheDir    string
	Concurrency int
	Logger      *slog.Logger
}

// Scan detects the license of every requirement in gomodPath. Modules
// missing from the cache are reported as Unknown.
func (s *Scanner) Scan(ctx context.Context, gomodPath string) (Inventory, error) {
	mods, err := Requirements(gomodPath)
	if err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = 8
	}

	var mu sync.Mutex
	found := map[string]map[string]bool{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, mod := range mods {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dir, err := ModuleDir(s.CacheDir, mod)
			if err != nil {
				return fmt.Errorf("%s: %w", mod.Path, err)
			}
			license := Unknown
			if _, statErr := os.Stat(dir); statErr != nil {
				logger.Warn("module not in cache", "module", mod.Path, "version", mod.Version)
			} else if license, err = DetectDir(dir); err != nil {
				return fmt.Errorf("%s: %w", mod.Path, err)
			}

			key := strings.ToLower(mod.Path)
			mu.Lock()
			if found[key] == nil {
				found[key] = map[string]bool{}
			}
			found[key][license] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inv := make(Inventory, len(found))
	for mod, set := range found {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		inv[mod] = names
	}
	return inv, nil
}

// Load reads an acceptable-licenses file.
func Load(path string) (Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read acceptable licenses: %w", err)
	}
	var inv Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse acceptable licenses %s: %w", path, err)
	}
	return inv, nil
}

// Write stores inv as an acceptable-licenses file.
func Write(path string, inv Inventory) error {
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode acceptable licenses: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write acceptable licenses: %w", err)
	}
	return nil
}

// FindMissing lists every module or license in current that acceptable
// does not allow, sorted by module.
func FindMissing(acceptable, current Inventory) []string {
	mods := make([]string, 0, len(current))
	for mod := range current {
		mods = append(mods, mod)
	}
	sort.Strings(mods)

	var missing []string
	for _, mod := range mods {
		allowed, ok := acceptable[mod]
		if !ok {
			missing = append(missing, fmt.Sprintf("Module %q is not in acceptable licenses", mod))
			continue
		}
		for _, license := range current[mod] {
			if !contains(allowed, license) {
				missing = append(missing, fmt.Sprintf("Module %q using license %q not in acceptable licenses", mod, license))
			}
		}
	}
	return missing
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MissingError reports licenses absent from the acceptable list.
type MissingError struct {
	Problems []string
}

func (e *MissingError) Error() string {
	var b strings.Builder
	b.WriteString("licenses missing from acceptable list:")
	for _, p := range e.Problems {
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return b.String()
}

// Check scans gomodPath and compares it with the acceptable-licenses file.
func (s *Scanner) Check(ctx context.Context, gomodPath, acceptablePath string) error {
	acceptable, err := Load(acceptablePath)
	if err != nil {
		return err
	}
	current, err := s.Scan(ctx, gomodPath)
	if err != nil {
		return err
	}
	if missing := FindMissing(acceptable, current); len(missing) > 0 {
		return &MissingError{Problems: missing}
	}
	return nil
}

// Generate scans gomodPath and writes its licenses to acceptablePath.
func (s *Scanner) Generate(ctx context.Context, gomodPath, acceptablePath string) (Inventory, error) {
	inv, err := s.Scan(ctx, gomodPath)
	if err != nil {
		return nil, err
	}
	if err := Write(acceptablePath, inv); err != nil {
		return nil, err
	}
	return inv, nil
}
