package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inkwell/api/internal/content"
)

// fakeSource replays a scripted sequence of snapshots, one per fetch.
type fakeSource struct {
	mu        sync.Mutex
	snapshots []Snapshot
	errs      []error
	calls     int
}

func (f *fakeSource) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return Snapshot{}, f.errs[i]
	}
	if i < len(f.snapshots) {
		return f.snapshots[i], nil
	}
	if len(f.snapshots) > 0 {
		return f.snapshots[len(f.snapshots)-1], nil
	}
	return Snapshot{Collection: "posts"}, nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (c *capturedEvents) handler(ctx context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturedEvents) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestDetector(source SnapshotSource) (*Detector, *capturedEvents) {
	captured := &capturedEvents{}
	dispatcher := NewDispatcher(nil)
	dispatcher.Register(captured.handler)
	d := NewDetector("site_1", source, dispatcher, content.Fingerprint)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return d, captured
}

// step runs one poll cycle synchronously, the way the ticker would.
func step(t *testing.T, d *Detector) bool {
	t.Helper()
	return d.tick(make(chan struct{}))
}

func TestDetectorClassificationLifecycle(t *testing.T) {
	source := &fakeSource{snapshots: []Snapshot{
		{Collection: "posts", Items: []SnapshotItem{
			{ID: "1", Slug: "old-slug", Status: "draft", Title: "One", UpdatedAt: "t1"},
		}},
		{Collection: "posts", Items: []SnapshotItem{
			{ID: "1", Slug: "old-slug", Status: "published", Title: "One", UpdatedAt: "t2"},
		}},
		{Collection: "posts", Items: []SnapshotItem{
			{ID: "1", Slug: "new-slug", Status: "published", Title: "One", UpdatedAt: "t3"},
		}},
		{Collection: "posts", Items: nil},
	}}
	d, captured := newTestDetector(source)
	d.mu.Lock()
	d.state = StateSyncing
	d.mu.Unlock()

	// First poll: seeding only, no events.
	step(t, d)
	if got := captured.all(); len(got) != 0 {
		t.Fatalf("first pass emitted %d events, want 0: %+v", len(got), got)
	}
	if d.State() != StateSteady {
		t.Fatalf("state after first pass = %s, want steady", d.State())
	}

	// Second poll: draft -> published.
	step(t, d)
	got := captured.all()
	if len(got) != 1 || got[0].Event != EventPublished || got[0].ItemID != "1" {
		t.Fatalf("second pass events = %+v, want one content.published for item 1", got)
	}

	// Third poll: slug rename. One update for the new slug plus one
	// carrying the old slug, in that order.
	step(t, d)
	got = captured.all()[1:]
	if len(got) != 2 {
		t.Fatalf("third pass emitted %d events, want 2: %+v", len(got), got)
	}
	if got[0].Event != EventUpdated || got[0].Slug != "new-slug" {
		t.Errorf("first rename event = %+v, want content.updated for new-slug", got[0])
	}
	if got[1].Event != EventUpdated || got[1].Slug != "old-slug" {
		t.Errorf("second rename event = %+v, want content.updated carrying old-slug", got[1])
	}

	// Fourth poll: item gone.
	step(t, d)
	got = captured.all()[3:]
	if len(got) != 1 || got[0].Event != EventDeleted || got[0].Slug != "new-slug" {
		t.Fatalf("fourth pass events = %+v, want one content.deleted with slug new-slug", got)
	}
}

func TestDetectorCreatedAfterFirstPass(t *testing.T) {
	source := &fakeSource{snapshots: []Snapshot{
		{Collection: "posts", Items: nil},
		{Collection: "posts", Items: []SnapshotItem{
			{ID: "7", Slug: "fresh", Status: "draft", Title: "Fresh", UpdatedAt: "t1"},
		}},
	}}
	d, captured := newTestDetector(source)
	d.mu.Lock()
	d.state = StateSyncing
	d.mu.Unlock()

	step(t, d)
	step(t, d)

	got := captured.all()
	if len(got) != 1 || got[0].Event != EventCreated || got[0].ItemID != "7" {
		t.Fatalf("events = %+v, want one content.created for item 7", got)
	}
}

func TestDetectorNoSpuriousEventsOnRefetch(t *testing.T) {
	snap := Snapshot{Collection: "posts", Items: []SnapshotItem{
		{ID: "1", Slug: "a", Status: "published", Title: "A", UpdatedAt: "t1", Data: map[string]any{"body": "x"}},
	}}
	source := &fakeSource{snapshots: []Snapshot{snap, snap, snap}}
	d, captured := newTestDetector(source)
	d.mu.Lock()
	d.state = StateSyncing
	d.mu.Unlock()

	step(t, d)
	step(t, d)
	step(t, d)

	if got := captured.all(); len(got) != 0 {
		t.Fatalf("identical re-fetches emitted %d events, want 0: %+v", len(got), got)
	}
}

func TestDetectorStopsAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("connection refused")
	source := &fakeSource{errs: []error{boom, boom, boom}}
	d, _ := newTestDetector(source)
	d.mu.Lock()
	d.state = StateSyncing
	d.mu.Unlock()

	if !step(t, d) {
		t.Fatal("loop should continue after first failure")
	}
	if !step(t, d) {
		t.Fatal("loop should continue after second failure")
	}
	if step(t, d) {
		t.Fatal("loop should stop after third consecutive failure")
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", d.State())
	}
}

func TestDetectorFailureCounterResetsOnSuccess(t *testing.T) {
	boom := errors.New("timeout")
	source := &fakeSource{
		errs: []error{boom, boom, nil, boom, boom},
		snapshots: []Snapshot{
			{}, {}, {Collection: "posts"}, {}, {},
		},
	}
	d, _ := newTestDetector(source)
	d.mu.Lock()
	d.state = StateSyncing
	d.mu.Unlock()

	step(t, d)
	step(t, d)
	step(t, d) // success, counter resets
	step(t, d)
	if !step(t, d) {
		t.Fatal("two failures after a success must not stop the loop")
	}
	if d.State() == StateStopped {
		t.Fatal("detector stopped despite the counter reset")
	}
}

func TestDetectorRestartAfterStop(t *testing.T) {
	source := &fakeSource{snapshots: []Snapshot{{Collection: "posts"}}}
	d, _ := newTestDetector(source)
	d.SetPollInterval(time.Hour)

	d.Start()
	d.Stop()
	if d.State() != StateStopped {
		t.Fatalf("state after stop = %s", d.State())
	}

	d.Start()
	defer d.Stop()
	if state := d.State(); state != StateSyncing && state != StateSteady {
		t.Fatalf("restart did not resume the loop, state = %s", state)
	}
}

func TestDetectorDuplicateStartIsNoOp(t *testing.T) {
	source := &fakeSource{snapshots: []Snapshot{{Collection: "posts"}}}
	d, _ := newTestDetector(source)
	d.SetPollInterval(time.Hour)

	d.Start()
	defer d.Stop()
	first := d.done

	d.Start()
	if d.done != first {
		t.Fatal("second Start replaced the running loop")
	}
}

func TestDetectorStaleStateDoesNotBlockStart(t *testing.T) {
	source := &fakeSource{snapshots: []Snapshot{{Collection: "posts"}}}
	d, _ := newTestDetector(source)
	d.SetPollInterval(time.Hour)

	// Simulate a stale "active" flag whose loop is already gone.
	d.mu.Lock()
	d.state = StateSteady
	d.done = make(chan struct{})
	close(d.done)
	d.mu.Unlock()

	d.Start()
	defer d.Stop()
	if state := d.State(); state != StateSyncing && state != StateSteady {
		t.Fatalf("stale flag blocked restart, state = %s", state)
	}
	select {
	case <-d.done:
		t.Fatal("Start did not install a fresh loop")
	default:
	}
}
