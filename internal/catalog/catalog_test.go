package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func testEntries() []Medication {
	return []Medication{
		{ID: uuid.New(), Name: "Doliprane", GenericName: "Paracetamol", Form: "tablet", Strength: "1000 mg"},
		{ID: uuid.New(), Name: "Dafalgan", GenericName: "Paracetamol", Form: "tablet", Strength: "500 mg"},
		{ID: uuid.New(), Name: "Glucophage", GenericName: "Metformin", Form: "tablet", Strength: "850 mg", RequiresPrescription: true},
	}
}

func TestStaticProvider_Lookup(t *testing.T) {
	entries := testEntries()
	p := NewStaticProvider(entries)

	med, err := p.Lookup(context.Background(), entries[0].ID)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if med.Name != "Doliprane" {
		t.Fatalf("expected Doliprane, got %q", med.Name)
	}

	if _, err := p.Lookup(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStaticProvider_Search(t *testing.T) {
	p := NewStaticProvider(testEntries())

	cases := []struct {
		query string
		want  []string
	}{
		{"doli", []string{"Doliprane"}},
		{"paracetamol", []string{"Dafalgan", "Doliprane"}}, // generic name matches, sorted by brand
		{"  METFORMIN ", []string{"Glucophage"}},
		{"", []string{"Dafalgan", "Doliprane", "Glucophage"}},
		{"nonexistent", nil},
	}

	for _, tc := range cases {
		meds, err := p.Search(context.Background(), tc.query)
		if err != nil {
			t.Fatalf("Search(%q) error: %v", tc.query, err)
		}
		if len(meds) != len(tc.want) {
			t.Fatalf("Search(%q) returned %d results, want %d", tc.query, len(meds), len(tc.want))
		}
		for i, name := range tc.want {
			if meds[i].Name != name {
				t.Fatalf("Search(%q)[%d] = %q, want %q", tc.query, i, meds[i].Name, name)
			}
		}
	}
}
