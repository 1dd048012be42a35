package pipeline

import "context"

type Repository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// List returns every stored run, newest first.
	List(ctx context.Context, limit int) ([]*Run, error)
}
