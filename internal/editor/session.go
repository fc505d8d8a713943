package editor

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"inkwell/api/internal/content"
)

// Session is the draft overlay store for one admin editing surface. It
// holds the working copy of each loaded item, routes writes to the
// right persistence channel, and keeps the pending-change ledger for
// published items. Sessions are not shared across editors; two sessions
// editing the same item race with simple optimistic overwrite.
type Session struct {
	mu      sync.Mutex
	repo    Repository
	sched   *Scheduler
	pending *PendingChanges
	items   map[string]*content.Item
	// publishedBase remembers the last-known published state of each
	// published item, untouched by overlay feedback writes, so
	// unpublish can revert to it.
	publishedBase map[string]content.Item
}

func NewSession(repo Repository, sched *Scheduler, pending *PendingChanges) *Session {
	return &Session{
		repo:          repo,
		sched:         sched,
		pending:       pending,
		items:         map[string]*content.Item{},
		publishedBase: map[string]content.Item{},
	}
}

// Load puts an item under session management, replacing any previous
// working copy.
func (s *Session) Load(item content.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := item
	working.Data = cloneData(item.Data)
	s.items[item.ID] = &working
	if item.Status == content.StatusPublished {
		base := item
		base.Data = cloneData(item.Data)
		base.Draft = nil
		s.publishedBase[item.ID] = base
	}
}

// Read returns the merged view of a loaded item: overlay over base.
func (s *Session) Read(itemID string) (content.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return content.Item{}, false
	}
	return content.Merge(*item), true
}

// Pending exposes the session's pending-change tracker.
func (s *Session) Pending() *PendingChanges {
	return s.pending
}

// Write applies one field edit. Unpublished items are mutated in place
// and scheduled for a debounced live write. Published items are mutated
// on both the base (instant feedback) and the draft overlay (stable
// re-reads), scheduled for a draft write, and recorded as pending.
// Writing a value the merged view already holds is a no-op. Setting
// status away from published on a published item is the unpublish
// special case, not a field write.
func (s *Session) Write(ctx context.Context, itemID, field string, value any) error {
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("item %s not loaded in session", itemID)
	}

	current, _ := content.FieldValue(*item, field)
	if reflect.DeepEqual(current, value) {
		s.mu.Unlock()
		return nil
	}

	if field == content.FieldStatus && item.Status == content.StatusPublished {
		if status, _ := value.(string); status != string(content.StatusPublished) {
			s.mu.Unlock()
			return s.unpublish(ctx, itemID)
		}
	}

	var changes content.ChangeSet
	changes.Set(field, value)

	if item.Status != content.StatusPublished {
		applyField(item, field, value)
		s.mu.Unlock()
		s.sched.Schedule(itemID, WriteLive, changes)
		return nil
	}

	applyField(item, field, value)
	if item.Draft == nil {
		item.Draft = &content.Overlay{}
	}
	item.Draft.SetField(field, value)
	s.mu.Unlock()

	s.sched.Schedule(itemID, WriteDraft, changes)
	s.pending.Record(itemID, field, value)
	return nil
}

// unpublish reverts the working copy to the last-known published base
// as a draft-status item, drops overlay and pending state, and issues a
// direct (non-debounced) unpublish write.
func (s *Session) unpublish(ctx context.Context, itemID string) error {
	s.sched.Cancel(itemID, WriteDraft)
	s.pending.Clear(itemID)

	s.mu.Lock()
	if base, ok := s.publishedBase[itemID]; ok {
		reverted := base
		reverted.Data = cloneData(base.Data)
		reverted.Status = content.StatusDraft
		reverted.PublishedAt = nil
		reverted.Draft = nil
		s.items[itemID] = &reverted
		delete(s.publishedBase, itemID)
	} else if item, ok := s.items[itemID]; ok {
		item.Status = content.StatusDraft
		item.PublishedAt = nil
		item.Draft = nil
	}
	s.mu.Unlock()

	if err := s.repo.Unpublish(ctx, itemID); err != nil {
		return fmt.Errorf("unpublish item %s: %w", itemID, err)
	}
	return nil
}

// Republish flushes any in-flight draft write, hands the accumulated
// pending changes to the repository's publish operation, and on success
// clears the entry and adopts the server's canonical item as the new
// base.
func (s *Session) Republish(ctx context.Context, itemID string) (content.Item, error) {
	s.sched.Flush(itemID, WriteDraft)

	pending, _ := s.pending.Get(itemID)
	canonical, err := s.repo.Publish(ctx, itemID, pending)
	if err != nil {
		return content.Item{}, fmt.Errorf("publish item %s: %w", itemID, err)
	}

	s.pending.Clear(itemID)
	s.Load(canonical)
	return canonical, nil
}

// DiscardDraft drops the overlay and pending edits for a published item
// and deletes its draft sub-resource.
func (s *Session) DiscardDraft(ctx context.Context, itemID string) error {
	s.sched.Cancel(itemID, WriteDraft)
	s.pending.Clear(itemID)

	s.mu.Lock()
	if base, ok := s.publishedBase[itemID]; ok {
		restored := base
		restored.Data = cloneData(base.Data)
		s.items[itemID] = &restored
	} else if item, ok := s.items[itemID]; ok {
		item.Draft = nil
	}
	s.mu.Unlock()

	if err := s.repo.DiscardDraft(ctx, itemID); err != nil {
		return fmt.Errorf("discard draft for item %s: %w", itemID, err)
	}
	return nil
}

func applyField(item *content.Item, field string, value any) {
	switch field {
	case content.FieldSlug:
		if s, ok := value.(string); ok {
			item.Slug = s
		}
	case content.FieldTitle:
		if s, ok := value.(string); ok {
			item.Title = s
		}
	case content.FieldStatus:
		if s, ok := value.(string); ok {
			item.Status = content.Status(s)
		}
	default:
		if item.Data == nil {
			item.Data = map[string]any{}
		}
		item.Data[field] = value
	}
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
