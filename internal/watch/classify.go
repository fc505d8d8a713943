package watch

import "time"

// snapshotRecord is the detector's memory of one item between polls,
// keyed by collection::itemID.
type snapshotRecord struct {
	Hash      string
	Slug      string
	Status    string
	Title     string
	UpdatedAt string
}

// observation is one item as seen in the current poll, with its
// fingerprint already computed.
type observation struct {
	SiteID     string
	Collection string
	ItemID     string
	Slug       string
	Status     string
	Title      string
	UpdatedAt  string
	Hash       string
}

func recordKey(collection, itemID string) string {
	return collection + "::" + itemID
}

// classify turns one observed item plus the previous record (nil on
// first sight) into zero or more typed events. The very first poll of a
// process lifetime (firstPass) only seeds records and never emits, so a
// restart does not replay every pre-existing item as created.
//
// Both the fingerprint and updatedAt act as change signals, OR-ed
// together: updatedAt is authoritative, the fingerprint catches writes
// that preserve timestamps. A slug change is also a change signal in
// its own right, and additionally yields a second update event carrying
// the old slug so consumers caching by the old path can invalidate it.
func classify(prev *snapshotRecord, obs observation, firstPass bool, now time.Time) []Event {
	if prev == nil {
		if firstPass {
			return nil
		}
		return []Event{{
			Event:      EventCreated,
			SiteID:     obs.SiteID,
			Collection: obs.Collection,
			Slug:       obs.Slug,
			ItemID:     obs.ItemID,
			Timestamp:  now,
		}}
	}

	changed := prev.Hash != obs.Hash || prev.UpdatedAt != obs.UpdatedAt || prev.Slug != obs.Slug
	if !changed {
		return nil
	}

	eventType := EventUpdated
	if prev.Status != "published" && obs.Status == "published" {
		eventType = EventPublished
	}

	events := []Event{{
		Event:      eventType,
		SiteID:     obs.SiteID,
		Collection: obs.Collection,
		Slug:       obs.Slug,
		ItemID:     obs.ItemID,
		Timestamp:  now,
	}}

	if prev.Slug != "" && prev.Slug != obs.Slug {
		events = append(events, Event{
			Event:      EventUpdated,
			SiteID:     obs.SiteID,
			Collection: obs.Collection,
			Slug:       prev.Slug,
			ItemID:     obs.ItemID,
			Timestamp:  now,
		})
	}

	return events
}
