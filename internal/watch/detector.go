package watch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Detector states. A detector starts idle, performs one seeding pass
// (syncing), then repeats polls in steady state until stopped either
// explicitly or by consecutive fetch failures.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSteady  State = "steady"
	StateStopped State = "stopped"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultFetchTimeout = 10 * time.Second
	maxConsecutiveFails = 3
)

// Snapshot is one poll result from the collaborator fetch contract.
type Snapshot struct {
	Items      []SnapshotItem
	Collection string
}

// SnapshotItem carries the observed fields of one content item.
// UpdatedAt stays a string: it is compared for identity, never parsed.
type SnapshotItem struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Status    string         `json:"status"`
	Title     string         `json:"title"`
	UpdatedAt string         `json:"updated_at"`
	Data      map[string]any `json:"data,omitempty"`
}

// SnapshotSource fetches the current remote snapshot. Implementations
// must be safe to call repeatedly (idempotent GET).
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// Fingerprinter computes the content hash for one observed item.
type Fingerprinter func(map[string]any) string

// Detector is the polling loop: fetch, fingerprint, classify, dispatch,
// remember. One detector instance owns the snapshot memory for a site;
// construct it once at process startup and share it by reference.
type Detector struct {
	siteID      string
	source      SnapshotSource
	dispatcher  *Dispatcher
	fingerprint Fingerprinter
	interval    time.Duration
	timeout     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	records  map[string]snapshotRecord
	failures int
	stopCh   chan struct{}
	done     chan struct{}
}

func NewDetector(siteID string, source SnapshotSource, dispatcher *Dispatcher, fingerprint Fingerprinter) *Detector {
	return &Detector{
		siteID:      siteID,
		source:      source,
		dispatcher:  dispatcher,
		fingerprint: fingerprint,
		interval:    DefaultPollInterval,
		timeout:     DefaultFetchTimeout,
		now:         time.Now,
		state:       StateIdle,
		records:     map[string]snapshotRecord{},
	}
}

// SetPollInterval overrides the poll interval. Must be called before
// Start.
func (d *Detector) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

// SetFetchTimeout overrides the per-poll fetch timeout. Must be called
// before Start.
func (d *Detector) SetFetchTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// State reports the current lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start launches the polling loop. Starting an already-running detector
// is a no-op, but liveness is checked against the loop itself rather
// than the state flag alone: a detector whose loop has exited (however
// that happened) is restartable even if the flag looks active.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loopAliveLocked() {
		return
	}

	d.state = StateSyncing
	d.failures = 0
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stopCh, d.done)
	log.Printf("watch: detector started for site %s (interval %s)", d.siteID, d.interval)
}

// Stop requests shutdown and waits for the loop to exit. An in-flight
// poll is allowed to finish; it is simply not rescheduled.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.loopAliveLocked() {
		d.state = StateStopped
		d.mu.Unlock()
		return
	}
	stopCh, done := d.stopCh, d.done
	d.mu.Unlock()

	close(stopCh)
	<-done

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	log.Printf("watch: detector stopped for site %s", d.siteID)
}

// loopAliveLocked reports whether the polling goroutine is actually
// running. A stale "active" state with no loop behind it must not block
// future starts.
func (d *Detector) loopAliveLocked() bool {
	if d.state != StateSyncing && d.state != StateSteady {
		return false
	}
	if d.done == nil {
		d.state = StateStopped
		return false
	}
	select {
	case <-d.done:
		d.state = StateStopped
		return false
	default:
		return true
	}
}

func (d *Detector) run(stopCh, done chan struct{}) {
	defer close(done)

	// Immediate first pass seeds the snapshot memory before the ticker
	// cadence begins.
	if !d.tick(stopCh) {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !d.tick(stopCh) {
				return
			}
		}
	}
}

// tick runs one poll cycle and reports whether the loop should
// continue.
func (d *Detector) tick(stopCh chan struct{}) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	snapshot, err := d.source.FetchSnapshot(ctx)
	if err != nil {
		return d.recordFailure(err)
	}

	select {
	case <-stopCh:
		// Stop was requested while the fetch was in flight; drop the
		// result instead of dispatching after shutdown.
		return false
	default:
	}

	d.processSnapshot(ctx, snapshot)
	return true
}

func (d *Detector) recordFailure(err error) bool {
	d.mu.Lock()
	d.failures++
	failures := d.failures
	terminal := failures >= maxConsecutiveFails
	if terminal {
		d.state = StateStopped
	}
	d.mu.Unlock()

	if terminal {
		log.Printf("watch: site %s poll failed %d consecutive times, stopping (restart required): %v", d.siteID, failures, err)
		return false
	}
	log.Printf("watch: site %s poll failed (%d/%d): %v", d.siteID, failures, maxConsecutiveFails, err)
	return true
}

func (d *Detector) processSnapshot(ctx context.Context, snapshot Snapshot) {
	d.mu.Lock()
	firstPass := d.state == StateSyncing
	d.failures = 0
	records := d.records
	d.mu.Unlock()

	now := d.now().UTC()
	seen := make(map[string]struct{}, len(snapshot.Items))
	var events []Event
	updates := map[string]snapshotRecord{}

	for _, item := range snapshot.Items {
		obs := observation{
			SiteID:     d.siteID,
			Collection: snapshot.Collection,
			ItemID:     item.ID,
			Slug:       item.Slug,
			Status:     item.Status,
			Title:      item.Title,
			UpdatedAt:  item.UpdatedAt,
			Hash:       d.fingerprint(snapshotPayload(item)),
		}
		key := recordKey(snapshot.Collection, item.ID)
		seen[key] = struct{}{}

		var prev *snapshotRecord
		if rec, ok := records[key]; ok {
			prev = &rec
		}
		events = append(events, classify(prev, obs, firstPass, now)...)
		updates[key] = snapshotRecord{
			Hash:      obs.Hash,
			Slug:      obs.Slug,
			Status:    obs.Status,
			Title:     obs.Title,
			UpdatedAt: obs.UpdatedAt,
		}
	}

	// Items remembered but absent from this poll were deleted remotely.
	var deletedKeys []string
	for key, rec := range records {
		if _, ok := seen[key]; ok {
			continue
		}
		if !firstPass {
			events = append(events, Event{
				Event:      EventDeleted,
				SiteID:     d.siteID,
				Collection: snapshot.Collection,
				Slug:       rec.Slug,
				ItemID:     itemIDFromKey(key),
				Timestamp:  now,
			})
		}
		deletedKeys = append(deletedKeys, key)
	}

	// Sequential, in-order dispatch: slug-rename events always follow
	// the update they belong to.
	for _, evt := range events {
		d.dispatcher.Dispatch(ctx, evt)
	}

	d.mu.Lock()
	for key, rec := range updates {
		d.records[key] = rec
	}
	for _, key := range deletedKeys {
		delete(d.records, key)
	}
	if d.state == StateSyncing {
		d.state = StateSteady
	}
	d.mu.Unlock()
}

// snapshotPayload builds the JSON-shaped document the fingerprint
// covers. Slug and title are deliberately included so a rename alone
// still moves the hash.
func snapshotPayload(item SnapshotItem) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"slug":       item.Slug,
		"status":     item.Status,
		"title":      item.Title,
		"updated_at": item.UpdatedAt,
		"data":       item.Data,
	}
}

func itemIDFromKey(key string) string {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == ':' && key[i+1] == ':' {
			return key[i+2:]
		}
	}
	return key
}

// Describe returns a short human-readable status line for admin
// surfaces.
func (d *Detector) Describe() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("site=%s state=%s tracked=%d failures=%d", d.siteID, d.state, len(d.records), d.failures)
}
