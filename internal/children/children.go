package children

import (
	"context"
	"errors"
	"fmt"

	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/metrics"
)

// ErrDuplicate is returned by Store.Insert when the parent already has
// a child (storage-level uniqueness constraint fired).
var ErrDuplicate = errors.New("child already exists for parent")

// Child is a parent-scoped record: at most one exists per parent id.
type Child struct {
	ID       string
	ParentID string
	Code     string // human-facing code, e.g. CONTRACT-7F3A
}

// Store is the storage collaborator. Insert must enforce a uniqueness
// constraint on the parent id and report violations as ErrDuplicate.
type Store interface {
	FindByParent(ctx context.Context, parentID string) (string, bool, error)
	Insert(ctx context.Context, child Child) error
}

// Creator guarantees at-most-one child per parent under concurrent or
// repeated invocation. Conflicts are absorbed, never surfaced.
type Creator struct {
	store  Store
	kind   string // contract, invoice; used for metrics and logs
	logger *logging.Logger
}

func NewCreator(store Store, kind string) *Creator {
	return &Creator{
		store:  store,
		kind:   kind,
		logger: logging.New("revoflow-" + kind + "s"),
	}
}

// CreateOrGet returns the id of the child for parentID, constructing
// and inserting one if none exists. The check-then-insert is not
// race-free on its own, so a uniqueness conflict on insert triggers a
// re-query and the winner's id is returned instead of an error.
func (c *Creator) CreateOrGet(ctx context.Context, parentID string, ctor func() (Child, error)) (string, error) {
	if id, found, err := c.store.FindByParent(ctx, parentID); err != nil {
		return "", err
	} else if found {
		metrics.RecordDuplicateCreate(c.kind)
		return id, nil
	}

	child, err := ctor()
	if err != nil {
		return "", err
	}
	child.ParentID = parentID

	err = c.store.Insert(ctx, child)
	if err == nil {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"parent_id": parentID,
			"child_id":  child.ID,
		}).Info(c.kind + ".created")
		return child.ID, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return "", err
	}

	// A concurrent caller won the race between the check and the
	// insert; hand back the winner's id.
	metrics.RecordDuplicateCreate(c.kind)
	id, found, err := c.store.FindByParent(ctx, parentID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s insert conflicted for parent %s but no winner row found", c.kind, parentID)
	}
	return id, nil
}
