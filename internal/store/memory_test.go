package store

import (
	"context"
	"testing"
	"time"

	"shipsync/internal/model"
)

func item(id, name, locality string) model.MethodItem {
	return model.MethodItem{ID: id, Name: name, Type: model.MethodTypeParcelMachine, Locality: locality}
}

func TestReplaceItemsFullReplace(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	initial := []model.MethodItem{item("a", "Alpha", "Tallinn"), item("b", "Beta", "Tartu")}
	if err := m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", initial); err != nil {
		t.Fatalf("replace: %v", err)
	}
	// b disappears, a is renamed, c arrives.
	next := []model.MethodItem{item("a", "Alpha 2", "Tallinn"), item("c", "Gamma", "Tallinn")}
	if err := m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", next); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := m.GetItems(ctx, "EE", "omniva", "parcelMachine")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].Name != "Alpha 2" || got[1].Name != "Gamma" {
		t.Fatalf("unexpected items: %+v", got)
	}
	if _, err := m.GetItem(ctx, "b"); err != ErrNotFound {
		t.Fatalf("expected b removed, err=%v", err)
	}
}

func TestReplaceItemsScopedToTriple(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", []model.MethodItem{item("a", "Alpha", "Tallinn")})
	_ = m.ReplaceItems(ctx, "LV", "omniva", "parcelMachine", []model.MethodItem{item("b", "Beta", "Riga")})
	// Replacing the EE set must not touch the LV set.
	_ = m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", []model.MethodItem{item("c", "Gamma", "Tartu")})
	if _, err := m.GetItem(ctx, "b"); err != nil {
		t.Fatalf("LV item lost: %v", err)
	}
	if _, err := m.GetItem(ctx, "a"); err != ErrNotFound {
		t.Fatalf("expected EE item a removed, err=%v", err)
	}
}

func TestItemsExistScoping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if ok, _ := m.ItemsExist(ctx, "", "", ""); ok {
		t.Fatal("empty store reports items")
	}
	_ = m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", []model.MethodItem{item("a", "Alpha", "Tallinn")})
	if ok, _ := m.ItemsExist(ctx, "", "", ""); !ok {
		t.Fatal("unscoped check missed the item")
	}
	if ok, _ := m.ItemsExist(ctx, "EE", "omniva", "parcelMachine"); !ok {
		t.Fatal("scoped check missed the item")
	}
	if ok, _ := m.ItemsExist(ctx, "LV", "omniva", "parcelMachine"); ok {
		t.Fatal("wrong country matched")
	}
	if ok, _ := m.ItemsExist(ctx, "EE", "omniva", "courier"); ok {
		t.Fatal("wrong method type matched")
	}
}

func TestItemsGroupedByLocality(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	items := []model.MethodItem{
		item("1", "Zeta", "Tartu"),
		item("2", "Alpha", "Tallinn"),
		item("3", "Mid", "Tallinn"),
		item("4", "Beta", "Tallinn"),
	}
	_ = m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", items)
	groups, err := m.ItemsGroupedByLocality(ctx, "EE", "omniva", "parcelMachine")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Locality != "Tallinn" || len(groups[0].Items) != 3 {
		t.Fatalf("biggest group first: %+v", groups[0])
	}
	if groups[0].Items[0].Name != "Alpha" || groups[0].Items[2].Name != "Mid" {
		t.Fatalf("items not name-sorted: %+v", groups[0].Items)
	}
}

func TestAvailableCountriesAndCourierItem(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.ReplaceItems(ctx, "EE", "omniva", "parcelMachine", []model.MethodItem{item("a", "Alpha", "Tallinn")})
	_ = m.ReplaceItems(ctx, "LV", "omniva", "parcelMachine", []model.MethodItem{item("b", "Beta", "Riga")})
	_ = m.ReplaceItems(ctx, "EE", "omniva", "courier", []model.MethodItem{{ID: "cr", Name: "Courier", Type: model.MethodTypeCourier}})

	countries, err := m.AvailableCountries(ctx, "omniva", "parcelMachine")
	if err != nil {
		t.Fatalf("countries: %v", err)
	}
	if len(countries) != 2 || countries[0] != "EE" || countries[1] != "LV" {
		t.Fatalf("countries = %v", countries)
	}
	id, err := m.GetCourierItemID(ctx, "EE", "omniva")
	if err != nil || id != "cr" {
		t.Fatalf("courier id = %q err=%v", id, err)
	}
	if _, err := m.GetCourierItemID(ctx, "LV", "omniva"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLockLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }

	ok, err := m.AcquireLock(ctx, "sync", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := m.AcquireLock(ctx, "sync", time.Minute); ok {
		t.Fatal("second acquire should fail while lock is live")
	}
	if exists, _ := m.LockExists(ctx, "sync"); !exists {
		t.Fatal("lock should exist")
	}
	// After the TTL the lock is free to take again.
	now = now.Add(61 * time.Second)
	if exists, _ := m.LockExists(ctx, "sync"); exists {
		t.Fatal("expired lock should not exist")
	}
	if ok, _ := m.AcquireLock(ctx, "sync", time.Minute); !ok {
		t.Fatal("expired lock should be acquirable")
	}
	if err := m.ReleaseLock(ctx, "sync"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := m.AcquireLock(ctx, "sync", time.Minute); !ok {
		t.Fatal("released lock should be acquirable")
	}
	// Releasing an absent lock is a no-op.
	if err := m.ReleaseLock(ctx, "missing"); err != nil {
		t.Fatalf("release missing: %v", err)
	}
}

func TestOrderMetaAndNotes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, model.Order{Number: "1001", Status: "processing"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.SetOrderMeta(ctx, o.ID, map[string]string{model.MetaShipmentID: "sh_1"}); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	found, err := m.FindOrderByMeta(ctx, model.MetaShipmentID, "sh_1")
	if err != nil || found.ID != o.ID {
		t.Fatalf("find by meta: %+v err=%v", found, err)
	}
	if _, err := m.FindOrderByMeta(ctx, model.MetaShipmentID, "sh_2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.AddOrderNote(ctx, o.ID, "first"); err != nil {
		t.Fatalf("note: %v", err)
	}
	notes, err := m.ListOrderNotes(ctx, o.ID)
	if err != nil || len(notes) != 1 || notes[0] != "first" {
		t.Fatalf("notes = %v err=%v", notes, err)
	}
	if err := m.AddOrderNote(ctx, "missing", "x"); err != ErrNotFound {
		t.Fatalf("note on missing order: %v", err)
	}
}

func TestGetOrderReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, model.Order{Number: "1"})
	got, _ := m.GetOrder(ctx, o.ID)
	got.Meta["injected"] = "x"
	again, _ := m.GetOrder(ctx, o.ID)
	if _, ok := again.Meta["injected"]; ok {
		t.Fatal("mutating a returned order leaked into the store")
	}
}
