package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"inkwell/api/internal/watch"
)

// Source fetches the current published form of a content item.
// found is false when the item no longer exists or is not published.
type Source func(ctx context.Context, itemID string) (ContentRecord, bool, error)

// Revalidator returns a change handler that keeps the search index in step
// with published content. Deleted and unpublished items are dropped from the
// index; everything else is reindexed from its canonical form.
func Revalidator(idx Indexer, fetch Source) watch.Handler {
	return func(ctx context.Context, ev watch.Event) error {
		if ev.Event == watch.EventDeleted {
			if err := idx.DeleteContent(ev.ItemID); err != nil {
				return fmt.Errorf("search: delete %s: %w", ev.ItemID, err)
			}
			return nil
		}

		rec, found, err := fetch(ctx, ev.ItemID)
		if err != nil {
			return fmt.Errorf("search: fetch %s: %w", ev.ItemID, err)
		}
		if !found {
			if err := idx.DeleteContent(ev.ItemID); err != nil {
				return fmt.Errorf("search: delete %s: %w", ev.ItemID, err)
			}
			return nil
		}

		if err := idx.IndexContent(rec); err != nil {
			return fmt.Errorf("search: index %s: %w", ev.ItemID, err)
		}
		return nil
	}
}

// BodyFromData flattens the string values of a content payload into a single
// searchable text blob, in stable key order.
func BodyFromData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if s, ok := data[k].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
