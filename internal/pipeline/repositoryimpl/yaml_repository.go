package repositoryimpl

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/pkg/cerr"
	"github.com/kazz187/reviewguild/pkg/storage"
)

const runsPrefix = "runs"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", runsPrefix, id)
}

func (r *YAMLRepository) Save(ctx context.Context, run *pipeline.Run) error {
	if run.ID == "" || strings.ContainsAny(run.ID, "/\\") {
		return cerr.NewError(cerr.InvalidArgument, "invalid run id", nil)
	}
	data, err := yaml.Marshal(run)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal run: %w", err))
	}
	if err := r.storage.Write(ctx, path(run.ID), data); err != nil {
		return cerr.WrapStorage(cerr.OpWrite, "run", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	if id == "" || strings.ContainsAny(id, "/\\") {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid run id", nil)
	}
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorage(cerr.OpRead, "run", err)
	}
	var run pipeline.Run
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal run: %w", err))
	}
	return &run, nil
}

// List reads runs newest first. Run ids are ULIDs, so reverse lexical
// order is reverse start order. Unreadable files are skipped.
func (r *YAMLRepository) List(ctx context.Context, limit int) ([]*pipeline.Run, error) {
	paths, err := r.storage.List(ctx, runsPrefix)
	if err != nil {
		return nil, cerr.WrapStorage(cerr.OpList, "runs", err)
	}
	slices.Sort(paths)
	slices.Reverse(paths)

	var runs []*pipeline.Run
	for _, p := range paths {
		if !strings.HasSuffix(p, ".yaml") {
			continue
		}
		if limit > 0 && len(runs) >= limit {
			break
		}
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable run", "path", p, "error", err)
			continue
		}
		var run pipeline.Run
		if err := yaml.Unmarshal(data, &run); err != nil {
			slog.WarnContext(ctx, "skipping malformed run", "path", p, "error", err)
			continue
		}
		runs = append(runs, &run)
	}
	return runs, nil
}
