package mapcache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablemux/internal/apperr"
	"tablemux/internal/avattr"
	"tablemux/internal/mapcache"
	"tablemux/internal/tablemap"
	"tablemux/internal/tenant"
)

func fakeMapping(name string) *tablemap.TableMapping {
	f := tablemap.NewFactory([]tablemap.PhysicalTable{
		{Name: "phys", Key: tablemap.PrimaryKey{Hash: tablemap.KeyAttr{Name: "pk", Kind: avattr.KindS}}},
	})
	tm, _ := f.Build(tablemap.VirtualTableSchema{Name: name, Key: tablemap.PrimaryKey{Hash: tablemap.KeyAttr{Name: "id", Kind: avattr.KindS}}})
	return tm
}

// TestGetCollapsesConcurrentMissesToOneBuild covers P5: N concurrent Get
// calls for the same (tenant, table) on a cold cache invoke the builder
// exactly once.
func TestGetCollapsesConcurrentMissesToOneBuild(t *testing.T) {
	var calls atomic.Int64
	start := make(chan struct{})
	build := func(ctx context.Context, tn tenant.ID, name string) (*tablemap.TableMapping, error) {
		<-start
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return fakeMapping(name), nil
	}
	c, err := mapcache.New(build, mapcache.Options{})
	require.NoError(t, err)
	defer c.Close()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*tablemap.TableMapping, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), tenant.ID("acme"), "orders")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetCachesSuccessAcrossCalls(t *testing.T) {
	var calls atomic.Int64
	build := func(ctx context.Context, tn tenant.ID, name string) (*tablemap.TableMapping, error) {
		calls.Add(1)
		return fakeMapping(name), nil
	}
	c, err := mapcache.New(build, mapcache.Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGetNeverCachesFailure(t *testing.T) {
	var calls atomic.Int64
	build := func(ctx context.Context, tn tenant.ID, name string) (*tablemap.TableMapping, error) {
		n := calls.Add(1)
		if n == 1 {
			return nil, apperr.New(apperr.NoPhysicalTable, "no match")
		}
		return fakeMapping(name), nil
	}
	c, err := mapcache.New(build, mapcache.Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.Error(t, err)

	tm, err := c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.NoError(t, err)
	assert.NotNil(t, tm)
	assert.Equal(t, int64(2), calls.Load())
}

func TestInvalidateForcesRebuild(t *testing.T) {
	var calls atomic.Int64
	build := func(ctx context.Context, tn tenant.ID, name string) (*tablemap.TableMapping, error) {
		calls.Add(1)
		return fakeMapping(name), nil
	}
	c, err := mapcache.New(build, mapcache.Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.NoError(t, err)
	c.Invalidate(tenant.ID("acme"), "orders")
	_, err = c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestDifferentTenantsDoNotShareACacheEntry(t *testing.T) {
	build := func(ctx context.Context, tn tenant.ID, name string) (*tablemap.TableMapping, error) {
		return fakeMapping(name), nil
	}
	c, err := mapcache.New(build, mapcache.Options{})
	require.NoError(t, err)
	defer c.Close()

	a, err := c.Get(context.Background(), tenant.ID("acme"), "orders")
	require.NoError(t, err)
	b, err := c.Get(context.Background(), tenant.ID("globex"), "orders")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
