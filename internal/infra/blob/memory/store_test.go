package memory

import (
	"bibstat/internal/blob/core"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "opendata/2014/a.jsonld", strings.NewReader(`{"@graph":[]}`), core.PutOptions{
		ContentType: "application/ld+json",
		Metadata:    map[string]string{"sample_year": "2014"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(`{"@graph":[]}`)) || info.Checksum == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "opendata/2014/a.jsonld", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "opendata/2014/a.jsonld")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"@graph":[]}` || got.Metadata["sample_year"] != "2014" {
		t.Fatalf("unexpected get %q %+v", body, got)
	}
	got.Metadata["sample_year"] = "mutated"
	head, _ := s.Head(ctx, "opendata/2014/a.jsonld")
	if head.Metadata["sample_year"] != "2014" {
		t.Fatalf("metadata must be copied on read")
	}

	_, _ = s.Put(ctx, "opendata/2015/b.jsonld", strings.NewReader("{}"), core.PutOptions{})
	list, _ := s.List(ctx, "opendata/2014/")
	if len(list) != 1 || list[0].Key != "opendata/2014/a.jsonld" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected two blobs, got %d", len(all))
	}

	if ok, _ := s.Delete(ctx, "opendata/2014/a.jsonld"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "opendata/2014/a.jsonld"); ok {
		t.Fatalf("second delete should report missing blob")
	}
	if _, err := s.Head(ctx, "opendata/2014/a.jsonld"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "../x"); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
