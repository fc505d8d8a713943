package store

import (
	"strings"
	"testing"

	"inkwell/api/internal/content"
)

func TestBuildItemUpdateSystemAndData(t *testing.T) {
	var changes content.ChangeSet
	changes.Set("slug", "new-slug")
	changes.Set("title", "New Title")
	changes.Set("body", "text")

	setClause, args, err := buildItemUpdate(changes)
	if err != nil {
		t.Fatalf("buildItemUpdate() error = %v", err)
	}
	if !strings.Contains(setClause, "slug = $") || !strings.Contains(setClause, "title = $") {
		t.Errorf("set clause missing system columns: %q", setClause)
	}
	if !strings.Contains(setClause, "data = data || $") {
		t.Errorf("set clause missing data merge: %q", setClause)
	}
	if len(args) != 3 {
		t.Errorf("args = %v, want 3 entries", args)
	}
}

func TestBuildItemUpdateDataOnly(t *testing.T) {
	var changes content.ChangeSet
	changes.Set("body", "text")

	setClause, args, err := buildItemUpdate(changes)
	if err != nil {
		t.Fatalf("buildItemUpdate() error = %v", err)
	}
	if setClause != "data = data || $1::jsonb" {
		t.Errorf("set clause = %q", setClause)
	}
	if string(args[0].([]byte)) != `{"body":"text"}` {
		t.Errorf("patch = %s", args[0])
	}
}

func TestBuildItemUpdateRejectsUnknownSystemField(t *testing.T) {
	changes := content.ChangeSet{Fields: map[string]any{"owner": "me"}}
	if _, _, err := buildItemUpdate(changes); err == nil {
		t.Fatal("unknown system column accepted into SQL")
	}
}

func TestBuildItemUpdateRejectsEmpty(t *testing.T) {
	if _, _, err := buildItemUpdate(content.ChangeSet{}); err == nil {
		t.Fatal("empty change set produced a SET clause")
	}
}
