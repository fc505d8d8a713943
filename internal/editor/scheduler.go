// Package editor holds the editing-session state for one admin surface:
// the draft overlay store, the pending-change tracker, and the debounced
// persistence scheduler between them and the repository.
package editor

import (
	"context"
	"log"
	"sync"
	"time"

	"inkwell/api/internal/content"
)

// WriteKind selects the persistence channel: live writes target the
// item directly, draft writes target its draft sub-resource.
type WriteKind string

const (
	WriteLive  WriteKind = "live"
	WriteDraft WriteKind = "draft"
)

const DefaultDebounce = time.Second

// Repository is the persistence collaborator the editing session writes
// through.
type Repository interface {
	UpdateItem(ctx context.Context, itemID string, changes content.ChangeSet) error
	SaveDraft(ctx context.Context, itemID string, changes content.ChangeSet) error
	DiscardDraft(ctx context.Context, itemID string) error
	Publish(ctx context.Context, itemID string, pending content.ChangeSet) (content.Item, error)
	Unpublish(ctx context.Context, itemID string) error
}

type pendingWrite struct {
	kind    WriteKind
	itemID  string
	changes content.ChangeSet
	timer   *time.Timer
}

// Scheduler debounces writes per item and channel: repeated schedules
// within the window coalesce into one outbound write carrying the
// accumulated changes. A pending write can be flushed on demand (before
// a republish) or cancelled (on unpublish). The timer factory is
// injectable so tests never wait on the wall clock.
type Scheduler struct {
	mu        sync.Mutex
	repo      Repository
	delay     time.Duration
	writes    map[string]*pendingWrite
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewScheduler(repo Repository, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{
		repo:      repo,
		delay:     delay,
		writes:    map[string]*pendingWrite{},
		afterFunc: time.AfterFunc,
	}
}

func writeKey(itemID string, kind WriteKind) string {
	return string(kind) + ":" + itemID
}

// Schedule merges changes into the pending write for (itemID, kind) and
// arms the debounce timer, restarting the window on every call.
func (s *Scheduler) Schedule(itemID string, kind WriteKind, changes content.ChangeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := writeKey(itemID, kind)
	pending, ok := s.writes[key]
	if !ok {
		pending = &pendingWrite{kind: kind, itemID: itemID}
		s.writes[key] = pending
	}
	pending.changes.Merge(changes)

	if pending.timer != nil {
		pending.timer.Stop()
	}
	pending.timer = s.afterFunc(s.delay, func() {
		s.Flush(itemID, kind)
	})
}

// Flush executes the pending write for (itemID, kind) immediately, if
// one exists. On failure the accumulated changes are folded back into
// the pending slot so nothing is silently lost; the next schedule or
// flush retries them.
func (s *Scheduler) Flush(itemID string, kind WriteKind) {
	s.mu.Lock()
	key := writeKey(itemID, kind)
	pending, ok := s.writes[key]
	if !ok || pending.changes.IsZero() {
		s.mu.Unlock()
		return
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}
	changes := pending.changes
	delete(s.writes, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch kind {
	case WriteDraft:
		err = s.repo.SaveDraft(ctx, itemID, changes)
	default:
		err = s.repo.UpdateItem(ctx, itemID, changes)
	}
	if err != nil {
		log.Printf("editor: %s save for item %s failed, keeping changes pending: %v", kind, itemID, err)
		s.mu.Lock()
		requeued, ok := s.writes[key]
		if !ok {
			requeued = &pendingWrite{kind: kind, itemID: itemID}
			s.writes[key] = requeued
		}
		// Newer edits scheduled during the failed write win.
		merged := changes.Clone()
		merged.Merge(requeued.changes)
		requeued.changes = merged
		s.mu.Unlock()
	}
}

// Cancel discards the pending write for (itemID, kind) without
// executing it.
func (s *Scheduler) Cancel(itemID string, kind WriteKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := writeKey(itemID, kind)
	if pending, ok := s.writes[key]; ok {
		if pending.timer != nil {
			pending.timer.Stop()
		}
		delete(s.writes, key)
	}
}

// PendingWrites reports how many debounced writes are currently armed.
func (s *Scheduler) PendingWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}
