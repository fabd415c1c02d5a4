package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/auditcore/fieldsync/internal/connectivity"
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/queue"
	"github.com/auditcore/fieldsync/internal/store"
	"github.com/auditcore/fieldsync/internal/tempid"
)

// fakeCall records one backend invocation for assertions.
type fakeCall struct {
	op    string
	table string
	id    string
	data  models.Record
}

// fakeBackend is an in-memory remote backend. Insert assigns sequential
// server ids; any operation can be forced to fail, and a hook can run
// before each call to simulate connectivity changes mid-pass.
type fakeBackend struct {
	mu         sync.Mutex
	calls      []fakeCall
	nextID     int
	failWith   error
	beforeCall func()
}

func (f *fakeBackend) record(c fakeCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeBackend) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	if f.beforeCall != nil {
		f.beforeCall()
	}
	f.record(fakeCall{op: "insert", table: table, data: rec.Clone()})
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.mu.Unlock()

	out := rec.Clone()
	out["id"] = id
	return out, nil
}

func (f *fakeBackend) Update(ctx context.Context, table, id string, rec models.Record) error {
	if f.beforeCall != nil {
		f.beforeCall()
	}
	f.record(fakeCall{op: "update", table: table, id: id, data: rec.Clone()})
	return f.failWith
}

func (f *fakeBackend) Delete(ctx context.Context, table, id string) error {
	if f.beforeCall != nil {
		f.beforeCall()
	}
	f.record(fakeCall{op: "delete", table: table, id: id})
	return f.failWith
}

func (f *fakeBackend) callLog() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type testEnv struct {
	store    *store.Store
	queue    *queue.Queue
	resolver *tempid.Resolver
	backend  *fakeBackend
	monitor  *connectivity.Static
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q, err := queue.New(st)
	if err != nil {
		t.Fatalf("queue.New() failed: %v", err)
	}

	env := &testEnv{
		store:    st,
		queue:    q,
		resolver: tempid.NewResolver(st),
		backend:  &fakeBackend{},
		monitor:  connectivity.NewStatic(true),
	}
	env.engine = New(st, q, env.resolver, env.backend, env.monitor)
	return env
}

func (env *testEnv) enqueue(t *testing.T, entry *models.MutationEntry) *models.MutationEntry {
	t.Helper()
	out, err := env.queue.Enqueue(entry)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return out
}

// TestDrainInsert verifies the full temporary-id round trip: placeholder
// removed, server record stored, mapping recorded, queue drained.
func TestDrainInsert(t *testing.T) {
	env := newTestEnv(t)

	tempID := tempid.Allocate()
	rec := models.Record{"id": tempID, "_tempId": tempID, "_pending": true, "name": "Acme"}
	if err := env.store.Put(models.CollectionCustomers, rec); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionCustomers,
		Operation: models.OpInsert,
		Data:      rec.Clone(),
		TempID:    tempID,
	})

	result, err := env.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if result.Synced != 1 || result.Failed != 0 {
		t.Fatalf("result = %s, want 1 synced", result)
	}

	calls := env.backend.callLog()
	if len(calls) != 1 || calls[0].op != "insert" {
		t.Fatalf("backend calls = %v, want one insert", calls)
	}
	// Neither the temporary id nor client-only fields may reach the wire.
	if _, ok := calls[0].data["id"]; ok {
		t.Error("temporary id was transmitted")
	}
	for _, field := range models.ClientOnlyFields {
		if _, ok := calls[0].data[field]; ok {
			t.Errorf("client-only field %s was transmitted", field)
		}
	}

	if real, ok := env.resolver.Lookup(tempID); !ok || real != "srv-1" {
		t.Errorf("mapping = (%s, %v), want (srv-1, true)", real, ok)
	}
	if _, ok := env.store.Get(models.CollectionCustomers, tempID); ok {
		t.Error("placeholder record was not removed")
	}
	if got, ok := env.store.Get(models.CollectionCustomers, "srv-1"); !ok || got["name"] != "Acme" {
		t.Errorf("server record = (%v, %v), want stored under srv-1", got, ok)
	}
	// Synced entries are garbage collected after the pass.
	if len(env.queue.All()) != 0 {
		t.Error("synced entry was not garbage collected")
	}
}

// TestDrainParentBeforeChild verifies a child enqueued before its parent
// still syncs after it, with the foreign key resolved to the server id.
func TestDrainParentBeforeChild(t *testing.T) {
	env := newTestEnv(t)

	parentTemp := tempid.Allocate()
	childTemp := tempid.Allocate()

	// Enqueue the child first to prove class ordering, not FIFO, decides.
	env.enqueue(t, &models.MutationEntry{
		Table:         models.CollectionContacts,
		Operation:     models.OpInsert,
		Data:          models.Record{"id": childTemp, "customer_id": parentTemp, "name": "site contact"},
		TempID:        childTemp,
		ParentTempID:  parentTemp,
		ParentFkField: "customer_id",
	})
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionCustomers,
		Operation: models.OpInsert,
		Data:      models.Record{"id": parentTemp, "name": "Acme"},
		TempID:    parentTemp,
	})

	result, err := env.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if result.Synced != 2 {
		t.Fatalf("result = %s, want 2 synced", result)
	}

	calls := env.backend.callLog()
	if len(calls) != 2 {
		t.Fatalf("backend saw %d calls, want 2", len(calls))
	}
	if calls[0].table != "customers" || calls[1].table != "contacts" {
		t.Fatalf("call order = %s, %s; want parent before child", calls[0].table, calls[1].table)
	}
	// The parent got srv-1, so the child's foreign key must be srv-1.
	if got := calls[1].data["customer_id"]; got != "srv-1" {
		t.Errorf("child customer_id = %v, want srv-1", got)
	}
}

// TestDrainClassOrdering verifies inserts go before updates and updates
// before deletes regardless of enqueue order.
func TestDrainClassOrdering(t *testing.T) {
	env := newTestEnv(t)

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpDelete,
		Data:      models.Record{"id": "job-old"},
	})
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpUpdate,
		Data:      models.Record{"id": "job-1", "status": "complete"},
	})
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "new job"},
	})

	if _, err := env.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	calls := env.backend.callLog()
	if len(calls) != 3 {
		t.Fatalf("backend saw %d calls, want 3", len(calls))
	}
	want := []string{"insert", "update", "delete"}
	for i, op := range want {
		if calls[i].op != op {
			t.Errorf("call %d = %s, want %s", i, calls[i].op, op)
		}
	}
}

// TestDrainUpdate verifies immutable fields are stripped from the patch
// and the local record is refreshed.
func TestDrainUpdate(t *testing.T) {
	env := newTestEnv(t)

	if err := env.store.Put(models.CollectionJobs, models.Record{"id": "job-1", "status": "scheduled"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpUpdate,
		Data:      models.Record{"id": "job-1", "status": "complete", "created_at": "2026-01-01"},
	})

	if _, err := env.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	calls := env.backend.callLog()
	if len(calls) != 1 || calls[0].op != "update" || calls[0].id != "job-1" {
		t.Fatalf("backend calls = %v, want one update of job-1", calls)
	}
	if _, ok := calls[0].data["created_at"]; ok {
		t.Error("immutable field created_at was transmitted")
	}
	if _, ok := calls[0].data["id"]; ok {
		t.Error("patch must not carry the record id in its body")
	}

	if got, _ := env.store.Get(models.CollectionJobs, "job-1"); got["status"] != "complete" {
		t.Errorf("local status = %v, want complete", got["status"])
	}
}

// TestDrainDelete verifies deletes reach the backend under the mapped
// remote table name.
func TestDrainDelete(t *testing.T) {
	env := newTestEnv(t)

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionLightingAudits,
		Operation: models.OpDelete,
		Data:      models.Record{"id": "audit-1"},
	})

	if _, err := env.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	calls := env.backend.callLog()
	if len(calls) != 1 || calls[0].op != "delete" {
		t.Fatalf("backend calls = %v, want one delete", calls)
	}
	if calls[0].table != "lighting_audits" {
		t.Errorf("table = %s, want lighting_audits", calls[0].table)
	}
	if calls[0].id != "audit-1" {
		t.Errorf("id = %s, want audit-1", calls[0].id)
	}
}

// TestDrainOffline verifies an offline drain is a no-op.
func TestDrainOffline(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.SetOnline(false)

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "queued offline"},
	})

	result, err := env.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if !result.Skipped || result.Attempted != 0 {
		t.Errorf("result = %s, want skipped with nothing attempted", result)
	}
	if len(env.backend.callLog()) != 0 {
		t.Error("offline drain must not touch the backend")
	}
	if env.queue.PendingCount() != 1 {
		t.Error("entry must remain pending for the next drain")
	}
}

// TestDrainSingleFlight verifies at most one drain runs at a time.
func TestDrainSingleFlight(t *testing.T) {
	env := newTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	env.backend.beforeCall = func() {
		close(started)
		<-release
	}

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "slow job"},
	})

	done := make(chan *DrainResult, 1)
	go func() {
		r, _ := env.engine.Drain(context.Background())
		done <- r
	}()

	<-started
	if !env.engine.Draining() {
		t.Error("Draining() = false while a pass is running")
	}
	second, err := env.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("second Drain() failed: %v", err)
	}
	if !second.Skipped {
		t.Error("concurrent drain must be skipped")
	}

	close(release)
	first := <-done
	if first.Synced != 1 {
		t.Errorf("first drain result = %s, want 1 synced", first)
	}
	if env.engine.Draining() {
		t.Error("Draining() = true after pass finished")
	}
}

// TestDrainAbortOnDisconnect verifies a pass stops when connectivity drops
// mid-pass, leaving later entries untouched.
func TestDrainAbortOnDisconnect(t *testing.T) {
	env := newTestEnv(t)

	env.backend.beforeCall = func() {
		// The first call succeeds, then the link goes down.
		env.backend.beforeCall = nil
		env.monitor.SetOnline(false)
	}

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "first"},
	})
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "second"},
	})

	result, err := env.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if !result.Aborted {
		t.Error("result must report the aborted pass")
	}
	if result.Attempted != 1 || result.Synced != 1 {
		t.Errorf("result = %s, want exactly one entry attempted before abort", result)
	}
	// The untouched entry stays eligible for the next pass.
	if env.queue.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", env.queue.PendingCount())
	}
}

// TestDrainFailureContinues verifies one failing entry does not stop the
// pass and ends up failed with its cause recorded.
func TestDrainFailureContinues(t *testing.T) {
	env := newTestEnv(t)

	// Updates without a record id fail locally before reaching the backend.
	bad := env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpUpdate,
		Data:      models.Record{"status": "orphaned"},
	})
	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "healthy"},
	})

	result, err := env.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if result.Synced != 1 || result.Failed != 1 {
		t.Fatalf("result = %s, want 1 synced and 1 failed", result)
	}

	for _, e := range env.queue.All() {
		if e.ID != bad.ID {
			continue
		}
		if e.Status != models.MutationFailed || e.Retries != 1 || e.Error == "" {
			t.Errorf("failed entry = %s/%d/%q, want failed/1 with a cause", e.Status, e.Retries, e.Error)
		}
	}
}

// TestDrainRetryExhaustion verifies a persistently failing entry becomes
// stuck after the retry limit and stops being attempted.
func TestDrainRetryExhaustion(t *testing.T) {
	env := newTestEnv(t)
	env.backend.failWith = errors.New("remote rejects this record")

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "cursed"},
	})

	for i := 0; i < models.RetryLimit; i++ {
		if _, err := env.engine.Drain(context.Background()); err != nil {
			t.Fatalf("Drain() %d failed: %v", i, err)
		}
	}

	if env.queue.StuckCount() != 1 {
		t.Fatalf("StuckCount() = %d, want 1", env.queue.StuckCount())
	}

	// Once stuck the entry must never be attempted again.
	callsBefore := len(env.backend.callLog())
	if _, err := env.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if got := len(env.backend.callLog()); got != callsBefore {
		t.Errorf("stuck entry was attempted again (%d -> %d calls)", callsBefore, got)
	}
}

// TestDrainContextCancel verifies a cancelled context aborts the pass.
func TestDrainContextCancel(t *testing.T) {
	env := newTestEnv(t)

	env.enqueue(t, &models.MutationEntry{
		Table:     models.CollectionJobs,
		Operation: models.OpInsert,
		Data:      models.Record{"name": "never sent"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if !result.Aborted || result.Attempted != 0 {
		t.Errorf("result = %s, want aborted before any attempt", result)
	}
}
