package conductor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/steps"
	"github.com/shaiso/taskflow/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// greetFlow: hello(name) -> greeting -> shout(greeting) -> loud
func greetFlow(_ domain.Job, opts ...engine.Option) (*engine.Flow, error) {
	f := engine.NewFlow("greet", opts...)
	err := f.Add(
		engine.NewTask("hello", func(_ context.Context, _ *engine.Context, in engine.Inputs) (engine.Outputs, error) {
			return engine.Outputs{"greeting": "hello"}, nil
		}).Provides("greeting").Build(),
		engine.NewTask("shout", func(_ context.Context, fc *engine.Context, in engine.Inputs) (engine.Outputs, error) {
			name, _ := fc.Inputs["name"].(string)
			greeting, _ := in["greeting"].(string)
			return engine.Outputs{"loud": strings.ToUpper(greeting) + " " + name}, nil
		}).Requires("greeting").Provides("loud").Build(),
	)
	return f, err
}

// failingFlow: reserve (с откатом) -> charge (падает)
func failingFlow(_ domain.Job, opts ...engine.Option) (*engine.Flow, error) {
	f := engine.NewFlow("checkout", opts...)
	err := f.Add(
		engine.NewTask("reserve", func(context.Context, *engine.Context, engine.Inputs) (engine.Outputs, error) {
			return engine.Outputs{"reservation": "r-1"}, nil
		}).Provides("reservation").
			RevertWith(func(context.Context, *engine.Context, engine.Outputs, *engine.Cause) error { return nil }).
			Build(),
		engine.NewTask("charge", func(context.Context, *engine.Context, engine.Inputs) (engine.Outputs, error) {
			return nil, errors.New("card declined")
		}).Requires("reservation").Build(),
	)
	return f, err
}

type fixture struct {
	board     *jobboard.MemoryBoard
	catalog   *catalog.MemoryCatalog
	flows     *Registry
	conductor *Conductor
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	fx := &fixture{
		board:   jobboard.NewMemoryBoard(jobboard.Config{Name: "test", Logger: discardLogger()}),
		catalog: catalog.NewMemoryCatalog(),
		flows:   NewRegistry(),
	}
	if err := fx.flows.Register("greet", greetFlow); err != nil {
		t.Fatalf("register greet: %v", err)
	}
	if err := fx.flows.Register("checkout", failingFlow); err != nil {
		t.Fatalf("register checkout: %v", err)
	}

	cfg := Config{
		Board:        fx.board,
		Catalog:      fx.catalog,
		Flows:        fx.flows,
		Owner:        "conductor-1",
		PollInterval: 20 * time.Millisecond,
		Metrics:      telemetry.NewMetrics(nil),
		Logger:       discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	fx.conductor = New(cfg)
	return fx
}

func (fx *fixture) post(t *testing.T, name string, inputs map[string]any) domain.Job {
	t.Helper()
	job := domain.NewJob(name, inputs)
	if err := fx.board.Post(context.Background(), job); err != nil {
		t.Fatalf("post: %v", err)
	}
	return *job
}

func (fx *fixture) outcomes(t *testing.T, job domain.Job, flow string) []string {
	t.Helper()
	ctx := context.Background()

	book, err := fx.catalog.CreateOrFetch(ctx, job.ID)
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	fd, err := book.Flow(ctx, flow)
	if err != nil {
		t.Fatalf("flow detail %s: %v", flow, err)
	}
	details, err := fd.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}

	var got []string
	for _, td := range details {
		got = append(got, td.Name+":"+td.Metadata["outcome"].(string))
	}
	return got
}

func TestRunOnceSuccess(t *testing.T) {
	fx := newFixture(t, nil)
	job := fx.post(t, "greet", map[string]any{"name": "bob"})

	n, err := fx.conductor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed job, got %d", n)
	}

	got, err := fx.board.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.JobStateSuccess {
		t.Errorf("expected SUCCESS, got %s (%s)", got.State, got.Error)
	}
	if got.Owner != "conductor-1" {
		t.Errorf("expected owner conductor-1, got %q", got.Owner)
	}

	want := []string{"hello:SUCCESS", "shout:SUCCESS"}
	if out := fx.outcomes(t, job, "greet"); strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestRunOnceRecordsOutputs(t *testing.T) {
	fx := newFixture(t, nil)
	job := fx.post(t, "greet", map[string]any{"name": "bob"})

	if _, err := fx.conductor.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	ctx := context.Background()
	book, _ := fx.catalog.CreateOrFetch(ctx, job.ID)
	fd, _ := book.Flow(ctx, "greet")
	details, _ := fd.Tasks(ctx, "shout")
	if len(details) != 1 {
		t.Fatalf("expected 1 shout record, got %d", len(details))
	}
	outputs, ok := details[0].Metadata["outputs"].(map[string]any)
	if !ok {
		t.Fatalf("expected outputs in metadata, got %v", details[0].Metadata)
	}
	if outputs["loud"] != "HELLO bob" {
		t.Errorf("expected loud=HELLO bob, got %v", outputs["loud"])
	}
}

func TestRunOnceFailureReverts(t *testing.T) {
	fx := newFixture(t, nil)
	job := fx.post(t, "checkout", nil)

	if _, err := fx.conductor.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, _ := fx.board.Get(context.Background(), job.ID)
	if got.State != domain.JobStateFailure {
		t.Fatalf("expected FAILURE, got %s", got.State)
	}
	if !strings.Contains(got.Error, "card declined") {
		t.Errorf("expected task error in job, got %q", got.Error)
	}

	want := []string{"reserve:SUCCESS", "charge:FAILURE", "reserve:REVERTED"}
	if out := fx.outcomes(t, job, "checkout"); strings.Join(out, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestRunOnceSkipsUnknownFlow(t *testing.T) {
	fx := newFixture(t, nil)
	job := fx.post(t, "missing", nil)

	n, err := fx.conductor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 processed jobs, got %d", n)
	}

	got, _ := fx.board.Get(context.Background(), job.ID)
	if got.State != domain.JobStateUnclaimed || got.Owner != "" {
		t.Errorf("job must stay on the board untouched, got %s owner=%q", got.State, got.Owner)
	}
}

func TestRunOnceSkipsClaimedJob(t *testing.T) {
	fx := newFixture(t, nil)
	job := fx.post(t, "greet", map[string]any{"name": "bob"})

	if err := fx.board.Claim(context.Background(), job.ID, "someone-else"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := fx.conductor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 processed jobs, got %d", n)
	}

	got, _ := fx.board.Get(context.Background(), job.ID)
	if got.Owner != "someone-else" || got.State != domain.JobStateClaimed {
		t.Errorf("claimed job must not be touched, got %s owner=%q", got.State, got.Owner)
	}
}

func TestEraseFinished(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) { cfg.EraseFinished = true })
	job := fx.post(t, "greet", map[string]any{"name": "bob"})

	if _, err := fx.conductor.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if fx.board.Len() != 0 {
		t.Errorf("expected erased job, board has %d", fx.board.Len())
	}
	ok, _ := fx.catalog.Contains(context.Background(), job.ID)
	if !ok {
		t.Errorf("logbook must survive erase")
	}
}

func TestRerunGetsNumberedFlowDetail(t *testing.T) {
	fx := newFixture(t, nil)
	job := fx.post(t, "greet", nil)
	ctx := context.Background()

	first, err := fx.conductor.openFlowDetail(ctx, job.ID, "greet")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := fx.conductor.openFlowDetail(ctx, job.ID, "greet")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Name() != "greet" || second.Name() != "greet#2" {
		t.Errorf("unexpected names %q, %q", first.Name(), second.Name())
	}
}

func TestStartProcessesPostedJobs(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) { cfg.PollInterval = time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fx.conductor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.conductor.Stop()

	// Публикация после старта будит Await раньше PollInterval
	job := fx.post(t, "greet", map[string]any{"name": "ann"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := fx.board.Get(context.Background(), job.ID)
		if err == nil && got.State == domain.JobStateSuccess {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job was not processed in time")
}

func TestWakeIsNonBlocking(t *testing.T) {
	fx := newFixture(t, nil)
	fx.conductor.Wake()
	fx.conductor.Wake()
	fx.conductor.Wake()
}

func TestStopTwiceAndStartAfterStop(t *testing.T) {
	fx := newFixture(t, nil)
	if err := fx.conductor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.conductor.Stop()
	fx.conductor.Stop()

	if !fx.conductor.IsStopped() {
		t.Errorf("expected stopped")
	}
	if err := fx.conductor.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestLoopExitsOnClosedBoard(t *testing.T) {
	fx := newFixture(t, nil)
	if err := fx.conductor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.board.Close()

	done := make(chan struct{})
	go func() {
		fx.conductor.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit after board close")
	}
	fx.conductor.Stop()
}

// --- Registry ---

const provisionYAML = `
name: provision
description: Provision a sandbox
tasks:
  - name: wait
    type: delay
    provides: [waited]
    config:
      duration: 1ms
    outputs:
      waited: "{{ .Response.duration_ms }}"
`

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("greet", greetFlow); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("greet", greetFlow); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if err := r.Register("", greetFlow); !errors.Is(err, ErrEmptyFlowName) {
		t.Errorf("expected ErrEmptyFlowName, got %v", err)
	}
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "provision.yaml"), []byte(provisionYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	n, err := r.LoadDir(dir, steps.DefaultRegistry())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 flow, got %d", n)
	}

	infos := r.Flows()
	if len(infos) != 1 || infos[0].Name != "provision" || infos[0].Description != "Provision a sandbox" {
		t.Errorf("unexpected flows: %+v", infos)
	}
	if len(infos) == 1 && (len(infos[0].Steps) != 1 || infos[0].Steps[0] != "delay") {
		t.Errorf("expected step kinds [delay], got %v", infos[0].Steps)
	}
	if _, ok := r.Spec("provision"); !ok {
		t.Errorf("expected spec for provision")
	}

	factory, ok := r.Lookup("provision")
	if !ok {
		t.Fatalf("provision not registered")
	}
	flow, err := factory(domain.Job{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := flow.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRegistryLoadDirInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	bad := `
name: bad
tasks:
  - name: a
    type: nope
`
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewRegistry().LoadDir(dir, nil); err == nil {
		t.Fatalf("expected error for unknown step type")
	}
}

func TestRegistryFlowsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", greetFlow)
	r.Register("alpha", greetFlow)

	infos := r.Flows()
	if infos[0].Name != "alpha" || infos[1].Name != "zeta" {
		t.Errorf("expected sorted flows, got %+v", infos)
	}
}
