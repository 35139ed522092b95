package scheduler

import (
	"context"
	"errors"
	"testing"
)

// fakeEngine records registrations and lets tests fire jobs by hand.
type fakeEngine struct {
	nextID  int
	added   map[int]func()
	removed []int
	started bool
	stopped bool
	addErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{added: make(map[int]func())}
}

func (f *fakeEngine) AddFunc(spec string, cmd func()) (int, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.nextID++
	f.added[f.nextID] = cmd
	return f.nextID, nil
}

func (f *fakeEngine) Remove(id int) { f.removed = append(f.removed, id) }
func (f *fakeEngine) Start()        { f.started = true }
func (f *fakeEngine) Stop()         { f.stopped = true }

func nopHandler(ctx context.Context, job Job) error { return nil }

func evalJob() Job {
	return Job{
		ID:       "nightly-structural",
		Name:     "Nightly structural evaluation",
		CronExpr: "0 6 * * *",
		Dataset:  "query",
		Scorer:   "structural",
	}
}

func TestNewScheduler_WhenEngineNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil engine")
		}
	}()
	NewScheduler(nil, nopHandler)
}

func TestAddJob_WhenValid_ShouldRegister(t *testing.T) {
	engine := newFakeEngine()
	s := NewScheduler(engine, nopHandler)

	if err := s.AddJob(evalJob()); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if len(engine.added) != 1 {
		t.Errorf("expected 1 cron registration, got %d", len(engine.added))
	}
	if got, ok := s.GetJob("nightly-structural"); !ok || got.Dataset != "query" {
		t.Errorf("job not retrievable: %+v ok=%v", got, ok)
	}
}

func TestAddJob_Validation(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		want error
	}{
		{"empty id", Job{CronExpr: "* * * * *", Dataset: "query"}, ErrEmptyJobID},
		{"empty cron", Job{ID: "j", Dataset: "query"}, ErrEmptyCron},
		{"empty dataset", Job{ID: "j", CronExpr: "* * * * *"}, ErrEmptyDataset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewScheduler(newFakeEngine(), nopHandler)
			if err := s.AddJob(tc.job); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAddJob_WhenDuplicateID_ShouldError(t *testing.T) {
	s := NewScheduler(newFakeEngine(), nopHandler)
	if err := s.AddJob(evalJob()); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.AddJob(evalJob()); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestAddJob_WhenEngineRejects_ShouldError(t *testing.T) {
	engine := newFakeEngine()
	engine.addErr = errors.New("bad spec")
	s := NewScheduler(engine, nopHandler)
	if err := s.AddJob(evalJob()); err == nil {
		t.Error("expected error when the engine rejects the spec")
	}
}

func TestFiredJob_ShouldInvokeHandlerWithJob(t *testing.T) {
	engine := newFakeEngine()
	var got Job
	s := NewScheduler(engine, func(ctx context.Context, job Job) error {
		got = job
		return nil
	})
	if err := s.AddJob(evalJob()); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	engine.added[1]()

	if got.ID != "nightly-structural" || got.Scorer != "structural" {
		t.Errorf("handler received wrong job: %+v", got)
	}
}

func TestFiredJob_WhenHandlerFails_ShouldNotPanic(t *testing.T) {
	engine := newFakeEngine()
	s := NewScheduler(engine, func(ctx context.Context, job Job) error {
		return errors.New("evaluation failed")
	})
	if err := s.AddJob(evalJob()); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	engine.added[1]() // must only log the failure
}

func TestRemoveJob_ShouldUnregister(t *testing.T) {
	engine := newFakeEngine()
	s := NewScheduler(engine, nopHandler)
	if err := s.AddJob(evalJob()); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := s.RemoveJob("nightly-structural"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if len(engine.removed) != 1 {
		t.Errorf("expected engine removal, got %v", engine.removed)
	}
	if _, ok := s.GetJob("nightly-structural"); ok {
		t.Error("job must be gone after removal")
	}
}

func TestRemoveJob_WhenUnknown_ShouldError(t *testing.T) {
	s := NewScheduler(newFakeEngine(), nopHandler)
	if err := s.RemoveJob("ghost"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestListJobs_WhenEmpty_ShouldReturnEmptySlice(t *testing.T) {
	s := NewScheduler(newFakeEngine(), nopHandler)
	if jobs := s.ListJobs(); jobs == nil || len(jobs) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", jobs)
	}
}

func TestStartStop_ShouldDelegateToEngine(t *testing.T) {
	engine := newFakeEngine()
	s := NewScheduler(engine, nopHandler)
	s.Start()
	s.Stop()
	if !engine.started || !engine.stopped {
		t.Errorf("engine not driven: started=%v stopped=%v", engine.started, engine.stopped)
	}
}
