package editor

import (
	"sync"

	"inkwell/api/internal/content"
)

// PendingChanges tracks, per published item, the field-level diff
// between the merged view and what has actually been republished. It
// drives the "unsaved changes" count in the admin surface and the
// payload handed to publish.
type PendingChanges struct {
	mu      sync.Mutex
	entries map[string]*content.ChangeSet
}

func NewPendingChanges() *PendingChanges {
	return &PendingChanges{entries: map[string]*content.ChangeSet{}}
}

// Record merges one field change into the item's entry, creating the
// entry on first edit. Previously recorded fields untouched by this
// write are preserved.
func (p *PendingChanges) Record(itemID, field string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[itemID]
	if !ok {
		entry = &content.ChangeSet{}
		p.entries[itemID] = entry
	}
	entry.Set(field, value)
}

// Get returns a copy of the item's pending change set.
func (p *PendingChanges) Get(itemID string) (content.ChangeSet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[itemID]
	if !ok {
		return content.ChangeSet{}, false
	}
	return entry.Clone(), true
}

// Clear removes the item's entry, on republish success or explicit
// discard.
func (p *PendingChanges) Clear(itemID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, itemID)
}

// CountChangedFields sums top-level system fields plus custom data
// fields across all tracked items.
func (p *PendingChanges) CountChangedFields() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, entry := range p.entries {
		total += entry.Len()
	}
	return total
}

// ItemIDs lists items with unreconciled edits.
func (p *PendingChanges) ItemIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	return ids
}
