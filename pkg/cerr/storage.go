package cerr

import (
	"errors"
	"fmt"

	"github.com/kazz187/reviewguild/pkg/storage"
)

type StorageOp string

const (
	OpRead   StorageOp = "read"
	OpWrite  StorageOp = "write"
	OpDelete StorageOp = "delete"
	OpList   StorageOp = "list"
)

// WrapStorage maps a storage failure on target to NotFound when the object
// is missing and to Internal otherwise.
func WrapStorage(op StorageOp, target string, err error) error {
	if err == nil {
		return nil
	}
	if op != OpWrite && errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, target+" not found", err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to %s %s: %w", op, target, err))
}
