package children

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func contractCtor() (Child, error) {
	id := uuid.NewString()
	return Child{ID: id, Code: "CONTRACT-" + id[:8]}, nil
}

func TestCreateThenGet(t *testing.T) {
	c := NewCreator(NewMemoryStore(), "contract")

	first, err := c.CreateOrGet(context.Background(), "deal-1", contractCtor)
	if err != nil {
		t.Fatalf("first CreateOrGet: %v", err)
	}
	if first == "" {
		t.Fatal("empty child id")
	}

	second, err := c.CreateOrGet(context.Background(), "deal-1", contractCtor)
	if err != nil {
		t.Fatalf("second CreateOrGet: %v", err)
	}
	if second != first {
		t.Errorf("repeated call returned %q, want %q", second, first)
	}
}

func TestDistinctParentsGetDistinctChildren(t *testing.T) {
	c := NewCreator(NewMemoryStore(), "invoice")

	a, err := c.CreateOrGet(context.Background(), "contract-1", contractCtor)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.CreateOrGet(context.Background(), "contract-2", contractCtor)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two parents share a child id")
	}
}

func TestConcurrentCreateYieldsOneChild(t *testing.T) {
	store := NewMemoryStore()
	c := NewCreator(store, "contract")

	const callers = 32
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = c.CreateOrGet(context.Background(), "deal-hot", contractCtor)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %q, caller 0 got %q; all callers must agree", i, ids[i], ids[0])
		}
	}

	// Exactly one row exists.
	id, found, err := store.FindByParent(context.Background(), "deal-hot")
	if err != nil || !found {
		t.Fatalf("FindByParent = %v, %v", found, err)
	}
	if id != ids[0] {
		t.Errorf("stored child %q != returned id %q", id, ids[0])
	}
}

// conflictStore forces the insert path into the conflict branch even
// though the initial check found nothing.
type conflictStore struct {
	*MemoryStore
	winner   Child
	injected bool
}

func (s *conflictStore) Insert(ctx context.Context, child Child) error {
	if !s.injected {
		s.injected = true
		if err := s.MemoryStore.Insert(ctx, s.winner); err != nil {
			return err
		}
		return ErrDuplicate
	}
	return s.MemoryStore.Insert(ctx, child)
}

func TestConflictAbsorbedReturnsWinner(t *testing.T) {
	winner := Child{ID: "child-winner", ParentID: "deal-1", Code: "CONTRACT-WIN"}
	store := &conflictStore{MemoryStore: NewMemoryStore(), winner: winner}
	c := NewCreator(store, "contract")

	id, err := c.CreateOrGet(context.Background(), "deal-1", contractCtor)
	if err != nil {
		t.Fatalf("conflict surfaced as error: %v", err)
	}
	if id != "child-winner" {
		t.Errorf("id = %q, want the winner's id", id)
	}
}

func TestCtorErrorPropagates(t *testing.T) {
	c := NewCreator(NewMemoryStore(), "contract")

	wantErr := errors.New("draft generation failed")
	_, err := c.CreateOrGet(context.Background(), "deal-1", func() (Child, error) {
		return Child{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want ctor error", err)
	}

	// Nothing inserted on ctor failure.
	if _, found, _ := c.store.FindByParent(context.Background(), "deal-1"); found {
		t.Error("child row exists after ctor failure")
	}
}

func TestCtorNotCalledWhenChildExists(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Insert(context.Background(), Child{ID: "c1", ParentID: "deal-1"}); err != nil {
		t.Fatal(err)
	}
	c := NewCreator(store, "contract")

	id, err := c.CreateOrGet(context.Background(), "deal-1", func() (Child, error) {
		t.Error("ctor called although a child exists")
		return Child{}, fmt.Errorf("unreachable")
	})
	if err != nil || id != "c1" {
		t.Errorf("CreateOrGet = %q, %v; want c1, nil", id, err)
	}
}
