package dispatch

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"tablemux/internal/apperr"
	"tablemux/internal/reqmap"
	"tablemux/internal/tablemap"
)

func (g *Gateway) Query(ctx context.Context, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	_, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}

	physIn := *in
	physIn.TableName = &tm.Physical.Name

	idxName := ""
	if in.IndexName != nil {
		idxName = *in.IndexName
	}

	qsm := reqmap.NewQueryAndScanMapper(tm, g.fields, g.tenants)
	idx, err := qsm.ResolveIndex(idxName)
	if err != nil {
		return nil, err
	}
	if err := qsm.ApplyQuery(ctx, reqmap.QueryWrapper{In: &physIn}); err != nil {
		return nil, err
	}

	out, err := g.backend.Query(ctx, &physIn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, err, "Query against physical table %q failed", tm.Physical.Name)
	}

	im := reqmap.NewItemMapper(g.fields, idx)
	items := make([]map[string]ddbtypes.AttributeValue, 0, len(out.Items))
	for _, it := range out.Items {
		virt, err := im.Reverse(ctx, it)
		if err != nil {
			return nil, err
		}
		items = append(items, virt)
	}
	out.Items = items

	if out.LastEvaluatedKey != nil {
		km := reqmap.NewKeyMapper(g.fields, idx)
		virt, err := km.Reverse(ctx, out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		out.LastEvaluatedKey = virt
	}
	return out, nil
}

// scanState names the scan-paging state machine's phases: START before any
// physical page has been fetched, FETCHING while looping through pages that
// came back tenant-filtered to nothing, DONE once either a non-empty page or
// a nil cursor is reached (or the soft time limit expires).
type scanState int

const (
	scanStart scanState = iota
	scanFetching
	scanDone
)

// Scan implements the paging state machine: a Scan against a shared
// physical table can come back with zero items on a page that, before the
// tenant-scoping filter was applied, held only other tenants' rows. Rather
// than hand the caller an empty page with a live cursor and make them loop,
// Scan keeps fetching physical pages itself until it has a non-empty page,
// a nil cursor, or the configured soft time limit elapses.
func (g *Gateway) Scan(ctx context.Context, in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	_, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}

	physIn := *in
	physIn.TableName = &tm.Physical.Name

	idxName := ""
	if in.IndexName != nil {
		idxName = *in.IndexName
	}
	projExpr := ""
	if in.ProjectionExpression != nil {
		projExpr = *in.ProjectionExpression
	}

	qsm := reqmap.NewQueryAndScanMapper(tm, g.fields, g.tenants)
	idx, err := qsm.ResolveIndex(idxName)
	if err != nil {
		return nil, err
	}
	if err := qsm.ApplyScan(ctx, reqmap.ScanWrapper{In: &physIn}, projExpr, in.AttributesToGet); err != nil {
		return nil, err
	}

	im := reqmap.NewItemMapper(g.fields, idx)

	deadline := g.cfg.ClockOrReal().Now().Add(g.cfg.GetRecordsTimeLimit)

	var items []map[string]ddbtypes.AttributeValue
	var scannedCount int32
	var lastKey map[string]ddbtypes.AttributeValue

	state := scanStart
	for state != scanDone {
		state = scanFetching
		out, err := g.backend.Scan(ctx, &physIn)
		if err != nil {
			return nil, apperr.Wrap(apperr.Backend, err, "Scan against physical table %q failed", tm.Physical.Name)
		}
		scannedCount += out.ScannedCount

		for _, it := range out.Items {
			virt, err := im.Reverse(ctx, it)
			if err != nil {
				return nil, err
			}
			items = append(items, virt)
		}

		lastKey = out.LastEvaluatedKey
		physIn.ExclusiveStartKey = lastKey

		if len(items) > 0 || lastKey == nil {
			state = scanDone
		} else if !g.cfg.ClockOrReal().Now().Before(deadline) {
			g.log.Debug("scan paging hit its soft time limit with no items",
				zap.String("physical_table", tm.Physical.Name))
			state = scanDone
		}
	}

	out := &dynamodb.ScanOutput{
		Items:        items,
		Count:        int32(len(items)),
		ScannedCount: scannedCount,
	}
	if len(items) > 0 {
		out.LastEvaluatedKey = virtualKeyOf(items[len(items)-1], idx)
	}
	return out, nil
}

// virtualKeyOf extracts idx's key attributes from an already-reversed
// (virtual-form) item. The physical LastEvaluatedKey a colocated physical
// table hands back can belong to a row this tenant never sees — a different
// tenant's partition, or another virtual table sharing the same physical
// table — so the terminal cursor is derived from the last item Scan is
// actually about to hand the caller, not from reverse-mapping the backend's
// raw cursor.
func virtualKeyOf(item map[string]ddbtypes.AttributeValue, idx tablemap.IndexMapping) map[string]ddbtypes.AttributeValue {
	out := map[string]ddbtypes.AttributeValue{
		idx.Hash.Source.Name: item[idx.Hash.Source.Name],
	}
	if idx.Range != nil {
		out[idx.Range.Source.Name] = item[idx.Range.Source.Name]
	}
	return out
}
