package app

import (
	"context"

	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/watch"
)

// StoreSource is a snapshot source backed by the local store, used when
// the detector watches this process's own content instead of a remote
// snapshot endpoint.
type StoreSource struct {
	store          dataStore
	siteID         string
	collectionSlug string
}

func NewStoreSource(dataStore dataStore, siteID, collectionSlug string) *StoreSource {
	return &StoreSource{store: dataStore, siteID: siteID, collectionSlug: collectionSlug}
}

func (s *StoreSource) FetchSnapshot(ctx context.Context) (watch.Snapshot, error) {
	collection, err := s.store.GetCollectionBySlug(ctx, s.siteID, s.collectionSlug)
	if err != nil {
		return watch.Snapshot{}, err
	}
	rows, err := s.store.ListSnapshot(ctx, collection.ID)
	if err != nil {
		return watch.Snapshot{}, err
	}
	items := make([]watch.SnapshotItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, snapshotItemFromRow(row))
	}
	return watch.Snapshot{Items: items, Collection: collection.Slug}, nil
}

// SearchSource returns the fetch side of the search revalidator: the
// published form of an item, or found=false when it is gone or back in
// draft.
func (s *Service) SearchSource() search.Source {
	return func(ctx context.Context, itemID string) (search.ContentRecord, bool, error) {
		item, err := s.store.GetItem(ctx, itemID)
		if err == store.ErrNotFound {
			return search.ContentRecord{}, false, nil
		}
		if err != nil {
			return search.ContentRecord{}, false, err
		}
		if item.Status != "published" {
			return search.ContentRecord{}, false, nil
		}
		return search.ContentRecord{
			ID:         item.ID,
			Slug:       item.Slug,
			Title:      item.Title,
			Body:       search.BodyFromData(item.Data),
			Collection: item.CollectionID,
			SiteID:     item.SiteID,
			Status:     item.Status,
		}, true, nil
	}
}
