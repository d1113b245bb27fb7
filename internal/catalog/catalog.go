// Package catalog exposes the read-only medication reference data as an
// injected capability instead of a process-wide table.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("medication not found")

type Medication struct {
	ID                   uuid.UUID
	Name                 string
	GenericName          string
	Form                 string // tablet, capsule, syrup, ...
	Strength             string // e.g. "500 mg"
	Category             string
	RequiresPrescription bool
}

type Provider interface {
	Lookup(ctx context.Context, id uuid.UUID) (*Medication, error)
	Search(ctx context.Context, name string) ([]Medication, error)
}

// StaticProvider serves a fixed medication list from memory. Entries are
// copied on construction; the provider is safe for concurrent use.
type StaticProvider struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]Medication
}

func NewStaticProvider(entries []Medication) *StaticProvider {
	byID := make(map[uuid.UUID]Medication, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	return &StaticProvider{byID: byID}
}

func (p *StaticProvider) Lookup(ctx context.Context, id uuid.UUID) (*Medication, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (p *StaticProvider) Search(ctx context.Context, name string) ([]Medication, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(name))

	out := make([]Medication, 0)
	for _, m := range p.byID {
		if q == "" ||
			strings.Contains(strings.ToLower(m.Name), q) ||
			strings.Contains(strings.ToLower(m.GenericName), q) {
			out = append(out, m)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}
