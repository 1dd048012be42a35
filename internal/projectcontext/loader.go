package projectcontext

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kazz187/reviewguild/pkg/cerr"
)

var ErrContextUnavailable = errors.New("project context unavailable")

const deliverablePrefix = "deliverables/"

type docSpec struct {
	name     string
	path     string
	required bool
}

var fixedDocs = []docSpec{
	{name: "TASKS", path: "docs/TASKS.md", required: true},
	{name: "SPEC", path: "docs/SPEC.md", required: true},
	{name: "ARCHITECTURE", path: "docs/ARCHITECTURE.md"},
}

const deliverablesDir = "docs/deliverables"

const defaultCacheSize = 16

// Loader reads project documentation into ProjectContext values and keeps
// the last result per project root. A cached context is only replaced by
// an explicit Reload or Invalidate.
type Loader struct {
	cache *lru.Cache[string, *ProjectContext]
	now   func() time.Time
}

type LoaderOption func(*Loader)

func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

func NewLoader(cacheSize int, opts ...LoaderOption) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *ProjectContext](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create context cache: %w", err)
	}
	l := &Loader{cache: cache, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load returns the cached context for root, reading it on first use.
func (l *Loader) Load(ctx context.Context, root string) (*ProjectContext, error) {
	abs, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	if pc, ok := l.cache.Get(abs); ok {
		return pc, nil
	}
	return l.read(ctx, abs)
}

// Reload reads root again and replaces the cached context.
func (l *Loader) Reload(ctx context.Context, root string) (*ProjectContext, error) {
	abs, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	l.cache.Remove(abs)
	return l.read(ctx, abs)
}

func (l *Loader) Invalidate(root string) {
	if abs, err := absRoot(root); err == nil {
		l.cache.Remove(abs)
	}
}

func absRoot(root string) (string, error) {
	if root == "" {
		return "", unavailable("project root is empty", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", unavailable("invalid project root", err)
	}
	return abs, nil
}

func unavailable(msg string, err error) error {
	if err == nil {
		err = ErrContextUnavailable
	} else {
		err = fmt.Errorf("%w: %w", ErrContextUnavailable, err)
	}
	return cerr.NewError(cerr.FailedPrecondition, msg, err)
}

func (l *Loader) read(ctx context.Context, root string) (*ProjectContext, error) {
	specs := append([]docSpec(nil), fixedDocs...)
	deliverables, err := listDeliverables(root)
	if err != nil {
		return nil, unavailable("failed to list deliverables", err)
	}
	specs = append(specs, deliverables...)

	pc := &ProjectContext{Root: root, LoadedAt: l.now()}
	sum := sha256.New()
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(spec.path)))
		if err != nil {
			if spec.required {
				return nil, unavailable(fmt.Sprintf("required document %s is unreadable", spec.path), err)
			}
			if !errors.Is(err, os.ErrNotExist) {
				slog.WarnContext(ctx, "skipping unreadable optional document", "path", spec.path, "error", err)
			}
			continue
		}
		content := string(data)
		title, sections := parseSections(content)
		pc.Documents = append(pc.Documents, Document{
			Name:     spec.name,
			Path:     spec.path,
			Required: spec.required,
			Title:    title,
			Content:  content,
			Sections: sections,
		})
		sum.Write([]byte(spec.path))
		sum.Write([]byte{0})
		sum.Write(data)
	}
	pc.Checksum = hex.EncodeToString(sum.Sum(nil))

	l.cache.Add(root, pc)
	slog.DebugContext(ctx, "project context loaded", "root", root, "documents", len(pc.Documents))
	return pc, nil
}

func listDeliverables(root string) ([]docSpec, error) {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(deliverablesDir)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var specs []docSpec
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		specs = append(specs, docSpec{
			name: deliverablePrefix + strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			path: deliverablesDir + "/" + e.Name(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].path < specs[j].path })
	return specs, nil
}
