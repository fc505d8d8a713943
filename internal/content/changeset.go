package content

// ChangeSet is a field-level diff against a persisted item: top-level
// system fields plus custom fields nested under Data. It is the shape
// pending edits are tracked in and the shape outbound writes carry.
type ChangeSet struct {
	Fields map[string]any `json:"fields,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Set records one field change, routing system fields to Fields and
// anything else to Data.
func (c *ChangeSet) Set(field string, value any) {
	switch field {
	case FieldSlug, FieldTitle, FieldStatus:
		if c.Fields == nil {
			c.Fields = map[string]any{}
		}
		c.Fields[field] = value
	default:
		if c.Data == nil {
			c.Data = map[string]any{}
		}
		c.Data[field] = value
	}
}

// Merge folds other into c, with other winning on conflicts. Fields
// already recorded on c and untouched by other are preserved.
func (c *ChangeSet) Merge(other ChangeSet) {
	for field, value := range other.Fields {
		if c.Fields == nil {
			c.Fields = map[string]any{}
		}
		c.Fields[field] = value
	}
	for field, value := range other.Data {
		if c.Data == nil {
			c.Data = map[string]any{}
		}
		c.Data[field] = value
	}
}

// Len counts changed fields: top-level system fields plus custom data
// fields.
func (c ChangeSet) Len() int {
	return len(c.Fields) + len(c.Data)
}

func (c ChangeSet) IsZero() bool {
	return len(c.Fields) == 0 && len(c.Data) == 0
}

// Clone returns a deep-enough copy: the maps are fresh, the values are
// shared.
func (c ChangeSet) Clone() ChangeSet {
	var out ChangeSet
	out.Merge(c)
	return out
}
