package dispatch

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/prefixcodec"
	"tablemux/internal/reqmap"
	"tablemux/internal/tablemap"
)

// rejectLegacyReadOptions enforces spec §6's enumerated unsupported option
// list for GetItem and BatchGetItem's per-table KeysAndAttributes: none of
// these carry meaning once keys are rewritten onto a shared physical table,
// and ConsistentRead/ProjectionExpression in particular would silently
// bypass the tenant-scoping this engine exists to enforce.
func rejectLegacyReadOptions(consistentRead *bool, attributesToGet []string, projectionExpression *string, expressionAttributeNames map[string]string) error {
	if consistentRead != nil && *consistentRead {
		return apperr.New(apperr.Unsupported, "consistentRead is not supported")
	}
	if len(attributesToGet) > 0 {
		return apperr.New(apperr.Unsupported, "attributesToGet is not supported")
	}
	if projectionExpression != nil {
		return apperr.New(apperr.Unsupported, "projectionExpression is not supported on GetItem/BatchGetItem")
	}
	if len(expressionAttributeNames) > 0 {
		return apperr.New(apperr.Unsupported, "expressionAttributeNames is not supported on GetItem/BatchGetItem")
	}
	return nil
}

func (g *Gateway) GetItem(ctx context.Context, in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	if err := rejectLegacyReadOptions(in.ConsistentRead, in.AttributesToGet, in.ProjectionExpression, in.ExpressionAttributeNames); err != nil {
		return nil, err
	}
	_, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}
	idx := tm.PrimaryIndexMapping()
	km := reqmap.NewKeyMapper(g.fields, idx)

	physKey, err := km.Apply(ctx, in.Key)
	if err != nil {
		return nil, err
	}

	physIn := *in
	physIn.TableName = &tm.Physical.Name
	physIn.Key = physKey

	out, err := g.backend.GetItem(ctx, &physIn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, err, "GetItem against physical table %q failed", tm.Physical.Name)
	}
	if out.Item == nil {
		return out, nil
	}

	im := reqmap.NewItemMapper(g.fields, idx)
	virtItem, err := im.Reverse(ctx, out.Item)
	if err != nil {
		return nil, err
	}
	out.Item = virtItem
	return out, nil
}

func (g *Gateway) PutItem(ctx context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	_, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}
	idx := tm.PrimaryIndexMapping()
	im := reqmap.NewItemMapper(g.fields, idx)

	physItem, err := im.Apply(ctx, in.Item)
	if err != nil {
		return nil, err
	}

	physIn := *in
	physIn.TableName = &tm.Physical.Name
	physIn.Item = physItem

	cm := reqmap.NewConditionMapper(g.fields)
	if err := cm.Apply(ctx, idx, reqmap.PutWrapper{In: &physIn}); err != nil {
		return nil, err
	}

	out, err := g.backend.PutItem(ctx, &physIn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, err, "PutItem against physical table %q failed", tm.Physical.Name)
	}
	if out.Attributes != nil {
		virt, err := im.Reverse(ctx, out.Attributes)
		if err != nil {
			return nil, err
		}
		out.Attributes = virt
	}
	return out, nil
}

func (g *Gateway) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	if len(in.AttributeUpdates) > 0 {
		return nil, apperr.New(apperr.Unsupported, "attributeUpdates is not supported on UpdateItem")
	}
	_, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}
	idx := tm.PrimaryIndexMapping()
	km := reqmap.NewKeyMapper(g.fields, idx)

	physKey, err := km.Apply(ctx, in.Key)
	if err != nil {
		return nil, err
	}

	physIn := *in
	physIn.TableName = &tm.Physical.Name
	physIn.Key = physKey

	cm := reqmap.NewConditionMapper(g.fields)
	if err := cm.Apply(ctx, idx, reqmap.UpdateWrapper{In: &physIn}); err != nil {
		return nil, err
	}

	out, err := g.backend.UpdateItem(ctx, &physIn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, err, "UpdateItem against physical table %q failed", tm.Physical.Name)
	}
	if out.Attributes != nil {
		im := reqmap.NewItemMapper(g.fields, idx)
		virt, err := im.Reverse(ctx, out.Attributes)
		if err != nil {
			return nil, err
		}
		out.Attributes = virt
	}
	return out, nil
}

func (g *Gateway) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	_, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}
	idx := tm.PrimaryIndexMapping()
	km := reqmap.NewKeyMapper(g.fields, idx)

	physKey, err := km.Apply(ctx, in.Key)
	if err != nil {
		return nil, err
	}

	physIn := *in
	physIn.TableName = &tm.Physical.Name
	physIn.Key = physKey

	cm := reqmap.NewConditionMapper(g.fields)
	if err := cm.Apply(ctx, idx, reqmap.DeleteWrapper{In: &physIn}); err != nil {
		return nil, err
	}

	out, err := g.backend.DeleteItem(ctx, &physIn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, err, "DeleteItem against physical table %q failed", tm.Physical.Name)
	}
	if out.Attributes != nil {
		im := reqmap.NewItemMapper(g.fields, idx)
		virt, err := im.Reverse(ctx, out.Attributes)
		if err != nil {
			return nil, err
		}
		out.Attributes = virt
	}
	return out, nil
}

// BatchGetItem fans each virtual table's key list down onto its physical
// table, merging requests that colocate onto the same physical table, and
// demultiplexes the merged response back to each originating virtual table
// by decoding the tenant prefix embedded in each returned item's hash key —
// the same information that made the colocation possible in the first place
// identifies which virtual table a given physical row belongs to.
func (g *Gateway) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
	physRequests := make(map[string]*ddbtypes.KeysAndAttributes)
	mappingsByVirtual := make(map[string]*tablemap.TableMapping)
	mappingsByPhysical := make(map[string]*tablemap.TableMapping)

	for vtable, kna := range in.RequestItems {
		if err := rejectLegacyReadOptions(kna.ConsistentRead, kna.AttributesToGet, kna.ProjectionExpression, kna.ExpressionAttributeNames); err != nil {
			return nil, err
		}
		_, tm, err := g.resolve(ctx, vtable)
		if err != nil {
			return nil, err
		}
		mappingsByVirtual[vtable] = tm
		mappingsByPhysical[tm.Physical.Name] = tm

		idx := tm.PrimaryIndexMapping()
		km := reqmap.NewKeyMapper(g.fields, idx)

		physKeys := make([]map[string]ddbtypes.AttributeValue, 0, len(kna.Keys))
		for _, k := range kna.Keys {
			pk, err := km.Apply(ctx, k)
			if err != nil {
				return nil, err
			}
			physKeys = append(physKeys, pk)
		}

		existing, ok := physRequests[tm.Physical.Name]
		if !ok {
			cp := kna
			cp.Keys = physKeys
			physRequests[tm.Physical.Name] = &cp
		} else {
			existing.Keys = append(existing.Keys, physKeys...)
		}
	}

	physIn := &dynamodb.BatchGetItemInput{
		RequestItems:           make(map[string]ddbtypes.KeysAndAttributes, len(physRequests)),
		ReturnConsumedCapacity: in.ReturnConsumedCapacity,
	}
	for name, kna := range physRequests {
		physIn.RequestItems[name] = *kna
	}

	out, err := g.backend.BatchGetItem(ctx, physIn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, err, "BatchGetItem failed")
	}

	result := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]ddbtypes.AttributeValue),
		ConsumedCapacity: out.ConsumedCapacity,
	}
	for physTable, items := range out.Responses {
		anyMapping, ok := mappingsByPhysical[physTable]
		if !ok {
			continue
		}
		hashKind := anyMapping.Physical.Key.Hash.Kind
		pf, err := prefixcodec.For(hashKind)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			hv, ok := item[anyMapping.Physical.Key.Hash.Name]
			if !ok {
				return nil, apperr.New(apperr.Corrupt, "physical item from %q is missing its hash key attribute", physTable)
			}
			_, virtualTableName, _, err := pf.Reverse(hv)
			if err != nil {
				return nil, err
			}
			vtm, ok := mappingsByVirtual[virtualTableName]
			if !ok {
				return nil, apperr.New(apperr.Corrupt, "item decoded to unrequested virtual table %q", virtualTableName)
			}
			im := reqmap.NewItemMapper(g.fields, vtm.PrimaryIndexMapping())
			virt, err := im.Reverse(ctx, item)
			if err != nil {
				return nil, err
			}
			result.Responses[virtualTableName] = append(result.Responses[virtualTableName], virt)
		}
	}

	if len(out.UnprocessedKeys) > 0 {
		result.UnprocessedKeys = make(map[string]ddbtypes.KeysAndAttributes, len(out.UnprocessedKeys))
		for physTable, kna := range out.UnprocessedKeys {
			anyMapping, ok := mappingsByPhysical[physTable]
			if !ok {
				continue
			}
			hashKind := anyMapping.Physical.Key.Hash.Kind
			pf, err := prefixcodec.For(hashKind)
			if err != nil {
				return nil, err
			}
			for _, key := range kna.Keys {
				hv, ok := key[anyMapping.Physical.Key.Hash.Name]
				if !ok {
					return nil, apperr.New(apperr.Corrupt, "unprocessed key from %q is missing its hash key attribute", physTable)
				}
				_, virtualTableName, _, err := pf.Reverse(hv)
				if err != nil {
					return nil, err
				}
				vtm, ok := mappingsByVirtual[virtualTableName]
				if !ok {
					return nil, apperr.New(apperr.Corrupt, "unprocessed key decoded to unrequested virtual table %q", virtualTableName)
				}
				km := reqmap.NewKeyMapper(g.fields, vtm.PrimaryIndexMapping())
				virtKey, err := km.Reverse(ctx, key)
				if err != nil {
					return nil, err
				}
				entry := result.UnprocessedKeys[virtualTableName]
				entry.Keys = append(entry.Keys, virtKey)
				result.UnprocessedKeys[virtualTableName] = entry
			}
		}
	}

	return result, nil
}
