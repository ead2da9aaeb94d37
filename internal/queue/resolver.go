package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nerrad567/macroforge-core/internal/macro"
)

// Resolver turns an entry's script reference into a script.
// *macro.Registry satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*macro.Script, error)
}

// FileResolver loads references ending in .yaml or .yml from disk,
// relative to BaseDir. Other references go to Fallback when set.
type FileResolver struct {
	BaseDir  string
	Fallback Resolver
}

// Resolve implements Resolver.
func (r FileResolver) Resolve(ctx context.Context, ref string) (*macro.Script, error) {
	ext := strings.ToLower(filepath.Ext(ref))
	if ext == ".yaml" || ext == ".yml" {
		path := ref
		if !filepath.IsAbs(path) && r.BaseDir != "" {
			path = filepath.Join(r.BaseDir, path)
		}
		return macro.LoadScript(path)
	}
	if r.Fallback != nil {
		return r.Fallback.Resolve(ctx, ref)
	}
	return nil, fmt.Errorf("%w: %q", macro.ErrScriptNotFound, ref)
}
