// Package descriptor defines the TableDescriptionRepository external
// collaborator (spec §6): where virtual table schemas are recorded, looked
// up, and removed. It is an out-of-scope dependency the façade calls
// through; only an in-memory fake (for tests) lives in this module.
package descriptor

import (
	"context"
	"sync"
	"time"

	"tablemux/internal/apperr"
	"tablemux/internal/tablemap"
)

// Description is one virtual table's recorded schema plus bookkeeping.
type Description struct {
	Schema    tablemap.VirtualTableSchema
	CreatedAt time.Time
}

// Repository stores and retrieves virtual table schemas, keyed by tenant and
// virtual table name.
type Repository interface {
	CreateTable(ctx context.Context, tenant, name string, schema tablemap.VirtualTableSchema) (Description, error)
	GetTableDescription(ctx context.Context, tenant, name string) (Description, error)
	DeleteTable(ctx context.Context, tenant, name string) (Description, error)
}

// Fake is an in-memory Repository for tests.
type Fake struct {
	mu    sync.Mutex
	table map[string]Description
	now   func() time.Time
}

// NewFake builds an empty in-memory Repository. now defaults to time.Now if
// nil.
func NewFake(now func() time.Time) *Fake {
	if now == nil {
		now = time.Now
	}
	return &Fake{table: make(map[string]Description), now: now}
}

func fakeKey(tenant, name string) string { return tenant + "\x00" + name }

func (f *Fake) CreateTable(_ context.Context, tenant, name string, schema tablemap.VirtualTableSchema) (Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fakeKey(tenant, name)
	if _, exists := f.table[key]; exists {
		return Description{}, apperr.New(apperr.InvalidArgument, "virtual table %q already exists for this tenant", name)
	}
	d := Description{Schema: schema, CreatedAt: f.now()}
	f.table[key] = d
	return d, nil
}

func (f *Fake) GetTableDescription(_ context.Context, tenant, name string) (Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.table[fakeKey(tenant, name)]
	if !ok {
		return Description{}, apperr.New(apperr.NotFound, "no virtual table %q for this tenant", name)
	}
	return d, nil
}

func (f *Fake) DeleteTable(_ context.Context, tenant, name string) (Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fakeKey(tenant, name)
	d, ok := f.table[key]
	if !ok {
		return Description{}, apperr.New(apperr.NotFound, "no virtual table %q for this tenant", name)
	}
	delete(f.table, key)
	return d, nil
}
