package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tallyhq/webhooks"
	"github.com/tallyhq/webhooks/catalog"
	"github.com/tallyhq/webhooks/store/memory"
)

func ctx() context.Context { return context.Background() }

func newCatalog() *catalog.Catalog {
	s := memory.New()
	return catalog.NewCatalog(s, catalog.Config{CacheTTL: 30 * time.Second}, nil)
}

func TestCatalogRegisterAndGet(t *testing.T) {
	c := newCatalog()

	et, err := c.RegisterType(ctx(), catalog.Definition{
		Name:        "invoice.created",
		Description: "Invoice created",
		Group:       "invoice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if et.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}

	got, err := c.GetType(ctx(), "invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Name != "invoice.created" {
		t.Fatalf("got %q", got.Definition.Name)
	}
}

func TestCatalogCacheHit(t *testing.T) {
	c := newCatalog()

	_, err := c.RegisterType(ctx(), catalog.Definition{Name: "a.event"})
	if err != nil {
		t.Fatal(err)
	}

	// First call populates cache.
	got1, _ := c.GetType(ctx(), "a.event")
	// Second call should return same pointer (cache hit).
	got2, _ := c.GetType(ctx(), "a.event")

	if got1 != got2 {
		t.Fatal("expected cache hit (same pointer)")
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	c := newCatalog()

	_, err := c.GetType(ctx(), "does.not.exist")
	if !errors.Is(err, webhooks.ErrEventTypeNotFound) {
		t.Fatalf("expected ErrEventTypeNotFound, got %v", err)
	}
}

func TestCatalogUpsert(t *testing.T) {
	c := newCatalog()

	_, err := c.RegisterType(ctx(), catalog.Definition{
		Name:        "invoice.created",
		Description: "v1",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.RegisterType(ctx(), catalog.Definition{
		Name:        "invoice.created",
		Description: "v2",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := c.GetType(ctx(), "invoice.created")
	if got.Definition.Description != "v2" {
		t.Fatalf("expected v2, got %q", got.Definition.Description)
	}
}

func TestCatalogDelete(t *testing.T) {
	c := newCatalog()

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "x.event"})

	if err := c.DeleteType(ctx(), "x.event"); err != nil {
		t.Fatal(err)
	}

	// The deprecated type is kept for audit and still readable; dispatch
	// rejects it by checking IsDeprecated.
	got, err := c.GetType(ctx(), "x.event")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsDeprecated {
		t.Fatal("expected deprecated event type")
	}
	if got.DeprecatedAt == nil {
		t.Fatal("expected DeprecatedAt to be set")
	}
}

func TestCatalogListExcludesDeprecated(t *testing.T) {
	c := newCatalog()

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "keep.event"})
	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "drop.event"})
	_ = c.DeleteType(ctx(), "drop.event")

	types, err := c.ListTypes(ctx(), catalog.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 1 {
		t.Fatalf("expected 1 type, got %d", len(types))
	}

	all, err := c.ListTypes(ctx(), catalog.ListOpts{IncludeDeprecated: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 types with IncludeDeprecated, got %d", len(all))
	}
}

func TestCatalogInvalidateCache(t *testing.T) {
	c := newCatalog()

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "cached.event"})

	// Get to populate cache.
	_, _ = c.GetType(ctx(), "cached.event")

	// Invalidate.
	c.InvalidateCache()

	// Should still work (re-reads from store).
	_, err := c.GetType(ctx(), "cached.event")
	if err != nil {
		t.Fatal(err)
	}
}

func TestCatalogWarmCache(t *testing.T) {
	s := memory.New()
	c := catalog.NewCatalog(s, catalog.Config{CacheTTL: time.Minute}, nil)

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "warm.event"})
	c.InvalidateCache()

	if err := c.WarmCache(ctx()); err != nil {
		t.Fatal(err)
	}

	got1, _ := c.GetType(ctx(), "warm.event")
	got2, _ := c.GetType(ctx(), "warm.event")
	if got1 != got2 {
		t.Fatal("expected warmed cache to serve the same pointer")
	}
}

func TestCatalogRegisterWithMetadata(t *testing.T) {
	c := newCatalog()

	et, err := c.RegisterType(ctx(), catalog.Definition{Name: "tagged.event"},
		catalog.WithMetadata(map[string]string{"key": "value"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if et.Metadata["key"] != "value" {
		t.Fatal("expected metadata")
	}
}
