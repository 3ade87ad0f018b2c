package servicecharge

import (
	"context"
	"testing"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store/memory"
)

func TestParse(t *testing.T) {
	charges, err := Parse("prescription=2000, compounded=3000,otc=0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if charges[domain.TypePrescription] != 2000 || charges[domain.TypeCompoundedPrescription] != 3000 {
		t.Fatalf("unexpected charges: %+v", charges)
	}
	if _, ok := charges[domain.TypeOverTheCounter]; !ok {
		t.Fatalf("expected explicit zero for otc")
	}

	for _, raw := range []string{"prescription", "herbal=100", "otc=-5", "otc=abc"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestUnknownTypeHasNoCharge(t *testing.T) {
	table := New(map[domain.TransactionType]int64{domain.TypePrescription: 2000})
	if got := table.ServiceCharge("herbal"); got != 0 {
		t.Fatalf("expected 0 for unknown type, got %d", got)
	}
}

func TestLoadOverlaysParameterSource(t *testing.T) {
	src := memory.New()
	src.SetServiceCharge(domain.TypeCompoundedPrescription, 4500)
	src.SetServiceCharge("herbal", 100)

	table := New(map[domain.TransactionType]int64{
		domain.TypePrescription:           2000,
		domain.TypeCompoundedPrescription: 3000,
	})
	applied, err := table.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied row, got %d", applied)
	}
	if table.ServiceCharge(domain.TypeCompoundedPrescription) != 4500 {
		t.Fatalf("expected overlay value 4500")
	}
	if table.ServiceCharge(domain.TypePrescription) != 2000 {
		t.Fatalf("expected untouched prescription charge")
	}
	if _, ok := table.Snapshot()["herbal"]; ok {
		t.Fatalf("unknown type should not be loaded")
	}
}
