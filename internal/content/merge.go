package content

// Merge layers an item's draft overlay over its base and returns the
// merged read view. Overlay fields win wherever both sides are present;
// absent overlay fields fall through to the base. Custom fields merge
// key-wise: base data is copied first, then overlay data on top. The
// result never aliases the input maps and carries no Draft of its own.
//
// Merge(base with nil draft) is the base itself, and merging is
// idempotent: re-merging a merged view changes nothing.
func Merge(item Item) Item {
	merged := item
	merged.Draft = nil
	merged.Data = copyData(item.Data)

	overlay := item.Draft
	if overlay.isEmpty() {
		return merged
	}

	if overlay.Slug != nil {
		merged.Slug = *overlay.Slug
	}
	if overlay.Title != nil {
		merged.Title = *overlay.Title
	}
	for key, value := range overlay.Data {
		if merged.Data == nil {
			merged.Data = map[string]any{}
		}
		merged.Data[key] = value
	}
	return merged
}

// FieldValue reads one field from the merged view of item, returning the
// overlay value when the field has a draft edit and the base value
// otherwise. The bool reports whether the field exists at all.
func FieldValue(item Item, field string) (any, bool) {
	merged := Merge(item)
	switch field {
	case FieldSlug:
		return merged.Slug, true
	case FieldTitle:
		return merged.Title, true
	case FieldStatus:
		return string(merged.Status), true
	default:
		value, ok := merged.Data[field]
		return value, ok
	}
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	return out
}
