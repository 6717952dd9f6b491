// Package dispatch implements the façade (spec C6): the single entry point
// callers use for all ten DynamoDB-shaped operations, dispatching each
// through the mapping cache and the C1–C4 mappers, plus the scan-paging
// state machine and the async DeleteTable worker.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"tablemux/internal/config"
	"tablemux/internal/descriptor"
	"tablemux/internal/fieldmap"
	"tablemux/internal/mapcache"
	"tablemux/internal/store"
	"tablemux/internal/tablemap"
	"tablemux/internal/tenant"
)

// Gateway is the mapping engine's façade.
type Gateway struct {
	cfg     config.Config
	tenants tenant.Provider
	fields  *fieldmap.Mapper
	factory *tablemap.Factory
	descs   descriptor.Repository
	backend store.BackingStore
	cache   *mapcache.Cache
	log     *zap.Logger
}

// New builds a Gateway. physicals is the fixed, startup-provisioned
// physical table catalog.
func New(cfg config.Config, tenants tenant.Provider, physicals []tablemap.PhysicalTable, descs descriptor.Repository, backend store.BackingStore, log *zap.Logger) (*Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fields := fieldmap.New(tenants)
	factory := tablemap.NewFactory(physicals)

	g := &Gateway{
		cfg:     cfg,
		tenants: tenants,
		fields:  fields,
		factory: factory,
		descs:   descs,
		backend: backend,
		log:     log,
	}

	cache, err := mapcache.New(g.buildMapping, mapcache.Options{})
	if err != nil {
		return nil, err
	}
	g.cache = cache
	return g, nil
}

func (g *Gateway) buildMapping(ctx context.Context, t tenant.ID, virtualTableName string) (*tablemap.TableMapping, error) {
	desc, err := g.descs.GetTableDescription(ctx, string(t), virtualTableName)
	if err != nil {
		return nil, err
	}
	return g.factory.Build(desc.Schema)
}

// resolve looks up the current tenant and the TableMapping for
// virtualTableName, logging the resolution the way every façade operation
// wants to on entry.
func (g *Gateway) resolve(ctx context.Context, virtualTableName string) (tenant.ID, *tablemap.TableMapping, error) {
	t, err := g.tenants.Current(ctx)
	if err != nil {
		return "", nil, err
	}
	tm, err := g.cache.Get(ctx, t, virtualTableName)
	if err != nil {
		return "", nil, err
	}
	g.log.Debug("resolved virtual table",
		zap.String("tenant", string(t)),
		zap.String("virtual_table", virtualTableName),
		zap.String("physical_table", tm.Physical.Name),
	)
	return t, tm, nil
}

// Close releases the Gateway's background resources (the mapping cache's
// store).
func (g *Gateway) Close() {
	g.cache.Close()
}
