package runs

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRegister(t *testing.T) {
	r := NewRegistry()
	rec, err := r.Register("run-1", "agents.sdr")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if rec.Status != StatusQueued {
		t.Errorf("new record status = %q, want %q", rec.Status, StatusQueued)
	}
	if rec.TaskKey != "agents.sdr" {
		t.Errorf("TaskKey = %q, want %q", rec.TaskKey, "agents.sdr")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
	if rec.FinishedAt != nil {
		t.Error("FinishedAt set on a new record")
	}

	if _, err := r.Register("run-1", "agents.sdr"); err == nil {
		t.Error("duplicate Register returned nil error")
	}
}

func TestUpdateStatus(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("run-1", "agents.sales"); err != nil {
		t.Fatal(err)
	}

	attempt := 2
	rec := r.UpdateStatus("run-1", StatusRunning, Update{RetryCount: &attempt})
	if rec == nil {
		t.Fatal("UpdateStatus returned nil for a known run")
	}
	if rec.Status != StatusRunning || rec.RetryCount != 2 {
		t.Errorf("record = %q/%d, want running/2", rec.Status, rec.RetryCount)
	}

	if rec := r.UpdateStatus("missing", StatusRunning, Update{}); rec != nil {
		t.Errorf("UpdateStatus(unknown) = %+v, want nil", rec)
	}
}

func TestTerminalRecordIsImmutable(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("run-1", "agents.finance"); err != nil {
		t.Fatal(err)
	}
	finished := time.Now().UTC()
	r.UpdateStatus("run-1", StatusFailed, Update{
		FinishedAt:   &finished,
		ErrorPayload: &ErrorPayload{Error: "boom", Attempt: 3},
	})

	rec := r.UpdateStatus("run-1", StatusRunning, Update{})
	if rec.Status != StatusFailed {
		t.Errorf("terminal record mutated to %q", rec.Status)
	}
	got := r.Get("run-1")
	if got.ErrorPayload == nil || got.ErrorPayload.Error != "boom" {
		t.Errorf("error payload changed after terminal update: %+v", got.ErrorPayload)
	}
}

func TestListInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		if _, err := r.Register(fmt.Sprintf("run-%d", i), "agents.sdr"); err != nil {
			t.Fatal(err)
		}
	}

	list := r.List()
	if len(list) != 5 {
		t.Fatalf("List length = %d, want 5", len(list))
	}
	for i, rec := range list {
		if want := fmt.Sprintf("run-%d", i); rec.RunID != want {
			t.Errorf("List()[%d].RunID = %q, want %q", i, rec.RunID, want)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("run-1", "agents.sdr"); err != nil {
		t.Fatal(err)
	}
	got := r.Get("run-1")
	got.Status = StatusFailed

	if r.Get("run-1").Status != StatusQueued {
		t.Error("mutating a Get copy changed the stored record")
	}
}

func TestConcurrentRegisterAndUpdate(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			if _, err := r.Register(id, "agents.sdr"); err != nil {
				t.Errorf("Register(%s): %v", id, err)
				return
			}
			attempt := 0
			r.UpdateStatus(id, StatusRunning, Update{RetryCount: &attempt})
			r.UpdateStatus(id, StatusSucceeded, Update{})
		}(i)
	}
	wg.Wait()

	if got := len(r.List()); got != 50 {
		t.Errorf("List length = %d, want 50", got)
	}
	for _, rec := range r.List() {
		if rec.Status != StatusSucceeded {
			t.Errorf("run %s status = %q, want succeeded", rec.RunID, rec.Status)
		}
	}
}

func TestRecordSerializedShape(t *testing.T) {
	r := NewRegistry()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return fixed })
	if _, err := r.Register("run-1", "agents.negotiation"); err != nil {
		t.Fatal(err)
	}

	b, err := json.Marshal(r.Get("run-1"))
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{
		`"run_id":"run-1"`,
		`"agent_name":"agents.negotiation"`,
		`"status":"queued"`,
		`"retry_count":0`,
		`"created_at":"2025-03-01T12:00:00Z"`,
		`"finished_at":null`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("serialized record missing %s: %s", want, s)
		}
	}
}
