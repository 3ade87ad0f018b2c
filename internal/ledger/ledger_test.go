package ledger

import (
	"errors"
	"testing"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/pricing"
)

type chargeTable map[domain.TransactionType]int64

func (c chargeTable) ServiceCharge(t domain.TransactionType) int64 { return c[t] }

var testCharges = chargeTable{
	domain.TypePrescription:           2000,
	domain.TypeCompoundedPrescription: 3000,
	domain.TypeOverTheCounter:         0,
}

func intPtr(v int) *int { return &v }

func product(code string, price int64, t domain.TransactionType) domain.ProductSnapshot {
	return domain.ProductSnapshot{ProductCode: code, Name: "Product " + code, Type: t, UnitPrice: price, Stock: intPtr(10)}
}

func mustApply(t *testing.T, l *Ledger, cmd Command) Result {
	t.Helper()
	res, err := l.Apply(cmd)
	if err != nil {
		t.Fatalf("apply %s: %v", Name(cmd), err)
	}
	return res
}

func assertTotalInvariant(t *testing.T, l *Ledger) {
	t.Helper()
	for _, item := range l.Items() {
		if item.Subtotal != item.UnitPrice*int64(item.Quantity) {
			t.Fatalf("item %d subtotal %d != %d*%d", item.ID, item.Subtotal, item.UnitPrice, item.Quantity)
		}
		want := item.Subtotal + item.ServiceCharge + item.MiscAmount -
			pricing.DiscountAmount(item.Subtotal, item.DiscountPercent) - item.PromoAmount
		if want < 0 {
			want = 0
		}
		if item.Total != want {
			t.Fatalf("item %d total %d, want %d", item.ID, item.Total, want)
		}
	}
}

func TestAddItemAssignsIDsAndServiceCharge(t *testing.T) {
	l := New(testCharges)

	res := mustApply(t, l, AddItem{Product: product("AMX500", 5000, domain.TypePrescription)})
	if !res.Changed || res.ItemID != 1 {
		t.Fatalf("expected first item id 1, got %+v", res)
	}
	if res.Validation == nil || res.Validation.Quantity != 1 || *res.Validation.Snapshot != 10 {
		t.Fatalf("expected validation request for quantity 1, got %+v", res.Validation)
	}

	mustApply(t, l, AddItem{Product: product("PCT500", 1500, domain.TypeOverTheCounter)})
	item, ok := l.Item(1)
	if !ok {
		t.Fatalf("expected item 1")
	}
	if item.ServiceCharge != 2000 || item.Total != 7000 {
		t.Fatalf("expected service charge 2000 and total 7000, got %+v", item)
	}
	if l.NextID() != 3 {
		t.Fatalf("expected next id 3, got %d", l.NextID())
	}
	assertTotalInvariant(t, l)
}

func TestAddingActiveProductIncrementsQuantity(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("AMX500", 5000, domain.TypePrescription)})
	res := mustApply(t, l, AddItem{Product: product("AMX500", 5000, domain.TypePrescription)})

	if l.Len() != 1 {
		t.Fatalf("expected ledger length 1, got %d", l.Len())
	}
	if res.ItemID != 1 || res.Validation.Quantity != 2 {
		t.Fatalf("expected increment of item 1 to quantity 2, got %+v", res)
	}
	item, _ := l.Item(1)
	if item.Quantity != 2 || item.Subtotal != 10000 {
		t.Fatalf("unexpected item after increment: %+v", item)
	}
	assertTotalInvariant(t, l)
}

func TestAddingProductWhoseRowIsInactiveAppendsNewRow(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("AMX500", 5000, domain.TypePrescription)})
	mustApply(t, l, UpdateQuantity{ItemID: 1, Quantity: 0})

	res := mustApply(t, l, AddItem{Product: product("AMX500", 5000, domain.TypePrescription)})
	if res.ItemID != 2 || l.Len() != 2 {
		t.Fatalf("expected new row id 2, got %+v len=%d", res, l.Len())
	}
}

func TestUpdateQuantityClampsAndRecomputes(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("AMX500", 5000, domain.TypePrescription)})

	res := mustApply(t, l, UpdateQuantity{ItemID: 1, Quantity: 3})
	if res.Validation == nil || res.Validation.Quantity != 3 {
		t.Fatalf("expected validation for quantity 3, got %+v", res.Validation)
	}
	mustApply(t, l, UpdateDiscount{ItemID: 1, Percent: 10})
	mustApply(t, l, UpdateMisc{ItemID: 1, Delta: 500})

	item, _ := l.Item(1)
	if item.Subtotal != 15000 || item.Total != 16000 {
		t.Fatalf("expected subtotal 15000 total 16000, got %+v", item)
	}

	mustApply(t, l, UpdateQuantity{ItemID: 1, Quantity: -4})
	item, _ = l.Item(1)
	if item.Quantity != 0 || item.Subtotal != 0 {
		t.Fatalf("expected quantity clamped to 0, got %+v", item)
	}
	assertTotalInvariant(t, l)
}

func TestMiscAmountAccumulates(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("OBH", 12000, domain.TypeOverTheCounter)})
	mustApply(t, l, UpdateMisc{ItemID: 1, Delta: 300})
	mustApply(t, l, UpdateMisc{ItemID: 1, Delta: 200})

	item, _ := l.Item(1)
	if item.MiscAmount != 500 || item.Total != 12500 {
		t.Fatalf("expected cumulative misc 500, got %+v", item)
	}
}

func TestDiscountIsClampedToPercentRange(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("OBH", 12000, domain.TypeOverTheCounter)})
	mustApply(t, l, UpdateDiscount{ItemID: 1, Percent: 250})

	item, _ := l.Item(1)
	if item.DiscountPercent != 100 || item.Total != 0 {
		t.Fatalf("expected 100%% discount and zero total, got %+v", item)
	}
}

func TestUpdateTypeRederivesServiceCharge(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("RACIK", 8000, domain.TypePrescription)})
	mustApply(t, l, UpdateType{ItemID: 1, Type: domain.TypeCompoundedPrescription})

	item, _ := l.Item(1)
	if item.ServiceCharge != 3000 || item.Total != 11000 {
		t.Fatalf("expected compounded charge 3000, got %+v", item)
	}

	res := mustApply(t, l, UpdateType{ItemID: 1, Type: "bogus"})
	if res.Changed {
		t.Fatalf("unknown type should be a no-op")
	}
}

func TestToggleUpsellFlips(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("VITC", 4000, domain.TypeOverTheCounter)})
	mustApply(t, l, ToggleUpsell{ItemID: 1})
	item, _ := l.Item(1)
	if !item.Upsell {
		t.Fatalf("expected upsell on")
	}
	mustApply(t, l, ToggleUpsell{ItemID: 1})
	item, _ = l.Item(1)
	if item.Upsell {
		t.Fatalf("expected upsell off")
	}
}

func TestUnknownIDIsNoOp(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("VITC", 4000, domain.TypeOverTheCounter)})
	before := l.Items()

	for _, cmd := range []Command{
		UpdateQuantity{ItemID: 42, Quantity: 3},
		UpdateDiscount{ItemID: 42, Percent: 5},
		UpdateMisc{ItemID: 42, Delta: 100},
		UpdateType{ItemID: 42, Type: domain.TypePrescription},
		ToggleUpsell{ItemID: 42},
		RemoveItem{ItemID: 42},
		RestoreItem{ItemID: 42},
	} {
		res := mustApply(t, l, cmd)
		if res.Changed || res.Validation != nil {
			t.Fatalf("%s on unknown id should be a no-op, got %+v", Name(cmd), res)
		}
	}
	after := l.Items()
	if len(after) != len(before) || after[0].Total != before[0].Total || after[0].Quantity != before[0].Quantity {
		t.Fatalf("ledger changed by no-op commands")
	}
}

func TestRemoveNewItemSplicesIt(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("A", 1000, domain.TypeOverTheCounter)})
	mustApply(t, l, AddItem{Product: product("B", 1000, domain.TypeOverTheCounter)})

	res := mustApply(t, l, RemoveItem{ItemID: 1})
	if !res.Removed || l.Len() != 1 {
		t.Fatalf("expected item spliced, len=%d res=%+v", l.Len(), res)
	}
	if _, ok := l.Item(1); ok {
		t.Fatalf("removed item should be gone")
	}

	res = mustApply(t, l, AddItem{Product: product("A", 1000, domain.TypeOverTheCounter)})
	if res.ItemID != 3 {
		t.Fatalf("ids must not be reused, got %d", res.ItemID)
	}
}

func loadTwoReturnItems(t *testing.T, l *Ledger) {
	t.Helper()
	mustApply(t, l, LoadReturn{
		InvoiceNumber: "INV-001",
		Items: []domain.SourceLineItem{
			{ProductCode: "AMX500", Name: "Amoxicillin", Type: domain.TypePrescription, UnitPrice: 5000, Quantity: 2, ServiceCharge: 2000},
			{ProductCode: "PCT500", Name: "Paracetamol", Type: domain.TypeOverTheCounter, UnitPrice: 1500, Quantity: 4},
		},
	})
}

func TestLoadReturnReplacesLedger(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("STAGED", 1000, domain.TypeOverTheCounter)})
	mustApply(t, l, AddItem{Product: product("STAGED2", 1000, domain.TypeOverTheCounter)})

	loadTwoReturnItems(t, l)
	items := l.Items()
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 2 {
		t.Fatalf("expected ids 1,2 after load, got %+v", items)
	}
	for _, item := range items {
		if !item.IsOriginalReturnItem() || item.IsDeleted() || item.Return.SourceInvoice != "INV-001" {
			t.Fatalf("expected original return item, got %+v", item)
		}
	}
	if l.NextID() != 3 {
		t.Fatalf("expected next id 3, got %d", l.NextID())
	}
	assertTotalInvariant(t, l)
}

func TestSoftDeleteAndRestoreOriginalItems(t *testing.T) {
	l := New(testCharges)
	loadTwoReturnItems(t, l)
	before := l.Totals()

	res := mustApply(t, l, RemoveItem{ItemID: 1})
	if !res.Changed || res.Removed {
		t.Fatalf("expected soft delete, got %+v", res)
	}
	if l.Len() != 2 {
		t.Fatalf("soft delete must keep ledger length, got %d", l.Len())
	}
	item, _ := l.Item(1)
	if !item.IsDeleted() {
		t.Fatalf("expected item 1 deleted")
	}
	if totals := l.Totals(); totals.ItemCount != 1 || totals.Subtotal != 6000 {
		t.Fatalf("deleted item must be excluded from totals, got %+v", totals)
	}

	res = mustApply(t, l, RestoreItem{ItemID: 1})
	if !res.Changed {
		t.Fatalf("expected restore to change state")
	}
	res = mustApply(t, l, RestoreItem{ItemID: 1})
	if res.Changed {
		t.Fatalf("second restore should be a no-op")
	}
	if after := l.Totals(); after != before {
		t.Fatalf("expected totals restored to %+v, got %+v", before, after)
	}
}

func TestRestoreIgnoresNewItems(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("A", 1000, domain.TypeOverTheCounter)})
	if res := mustApply(t, l, RestoreItem{ItemID: 1}); res.Changed {
		t.Fatalf("restore of a new item must be a no-op")
	}
}

func TestMixedReturnScenario(t *testing.T) {
	l := New(testCharges)
	loadTwoReturnItems(t, l)
	mustApply(t, l, RemoveItem{ItemID: 1})
	res := mustApply(t, l, AddItem{Product: product("VITC", 4000, domain.TypeOverTheCounter)})

	if res.ItemID != 3 || l.Len() != 3 {
		t.Fatalf("expected new item id 3 and length 3, got id=%d len=%d", res.ItemID, l.Len())
	}
	active := l.ActiveItems()
	if len(active) != 2 || active[0].ID != 2 || active[1].ID != 3 {
		t.Fatalf("expected active ids 2 and 3, got %+v", active)
	}
	if totals := l.Totals(); totals.Subtotal != 6000+4000 {
		t.Fatalf("unexpected aggregate %+v", totals)
	}
}

func TestClearAllResetsIDs(t *testing.T) {
	l := New(testCharges)
	mustApply(t, l, AddItem{Product: product("A", 1000, domain.TypeOverTheCounter)})
	mustApply(t, l, AddItem{Product: product("B", 1000, domain.TypeOverTheCounter)})

	mustApply(t, l, ClearAll{})
	if l.Len() != 0 || l.NextID() != 1 {
		t.Fatalf("expected empty ledger with next id 1, got len=%d next=%d", l.Len(), l.NextID())
	}
	res := mustApply(t, l, AddItem{Product: product("C", 1000, domain.TypeOverTheCounter)})
	if res.ItemID != 1 {
		t.Fatalf("expected id 1 after clear, got %d", res.ItemID)
	}
}

func TestFromSnapshotNeverReusesIDs(t *testing.T) {
	items := []domain.LineItem{
		pricing.Recompute(domain.LineItem{ID: 4, ProductCode: "A", Name: "A", UnitPrice: 100, Quantity: 1}),
	}
	l := FromSnapshot(items, 2, testCharges)
	if l.NextID() != 5 {
		t.Fatalf("expected next id raised to 5, got %d", l.NextID())
	}
}

type foreignCommand struct{ AddItem }

func TestApplyRejectsUnknownCommand(t *testing.T) {
	l := New(testCharges)
	_, err := l.Apply(foreignCommand{})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}
