package replmap

import (
	"context"
	"reflect"
	"testing"
)

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := SQLiteStore{Dir: t.TempDir()}

	src := NewDoc("rep-a")
	src.Set("item-1", Properties{"name": "Milk", "order": 10.0, "checked": false})
	src.Set("item-2", Properties{"name": "Eggs", "order": 20.0})
	src.Delete("item-2")

	if err := s.Save(ctx, "room-1", src); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	dst := NewDoc("rep-b")
	if err := s.Load(ctx, "room-1", dst); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if !reflect.DeepEqual(src.EncodeSnapshot(), dst.EncodeSnapshot()) {
		t.Fatalf("round trip diverged:\nsrc=%v\ndst=%v", src.EncodeSnapshot(), dst.EncodeSnapshot())
	}
	if _, ok := dst.Get("item-2"); ok {
		t.Fatalf("tombstone lost in round trip")
	}

	rooms, err := s.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms error: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "room-1" {
		t.Fatalf("expected [room-1]; got %v", rooms)
	}
}

func TestSQLiteLoadMissingRoom(t *testing.T) {
	ctx := context.Background()
	s := SQLiteStore{Dir: t.TempDir()}

	doc := NewDoc("rep-a")
	if err := s.Load(ctx, "nope", doc); err != nil {
		t.Fatalf("Load of missing room should be empty, not an error: %v", err)
	}
	if keys := doc.Keys(); len(keys) != 0 {
		t.Fatalf("expected empty doc; got %v", keys)
	}
}

func TestSQLiteSaveReplacesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	s := SQLiteStore{Dir: t.TempDir()}

	doc := NewDoc("rep-a")
	doc.Set("item-1", Properties{"name": "Milk"})
	if err := s.Save(ctx, "room-1", doc); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	doc.Delete("item-1")
	doc.Set("item-2", Properties{"name": "Bread"})
	if err := s.Save(ctx, "room-1", doc); err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	dst := NewDoc("rep-b")
	if err := s.Load(ctx, "room-1", dst); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, ok := dst.Get("item-1"); ok {
		t.Fatalf("expected item-1 deleted after reload")
	}
	if _, ok := dst.Get("item-2"); !ok {
		t.Fatalf("expected item-2 present after reload")
	}
}
