package reqmap

import (
	"context"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/fieldmap"
	"tablemux/internal/tablemap"
)

// ItemMapper applies and reverses a full item against one index's key
// attributes, passing every other attribute through unchanged.
type ItemMapper struct {
	fields *fieldmap.Mapper
	idx    tablemap.IndexMapping
}

// NewItemMapper builds an ItemMapper for the given index mapping (pass
// tm.PrimaryIndexMapping() for the table's own key).
func NewItemMapper(fields *fieldmap.Mapper, idx tablemap.IndexMapping) *ItemMapper {
	return &ItemMapper{fields: fields, idx: idx}
}

// Apply rewrites item's key attributes to their physical names and
// tenant-encoded values. Non-key attributes are copied through unchanged.
func (m *ItemMapper) Apply(ctx context.Context, item map[string]ddbtypes.AttributeValue) (map[string]ddbtypes.AttributeValue, error) {
	out := make(map[string]ddbtypes.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}

	hv, ok := item[m.idx.Hash.Source.Name]
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, "item is missing key attribute %q", m.idx.Hash.Source.Name)
	}
	delete(out, m.idx.Hash.Source.Name)
	mapped, err := m.fields.Apply(ctx, m.idx.Hash, hv)
	if err != nil {
		return nil, err
	}
	out[m.idx.Hash.Target.Name] = mapped

	if m.idx.Range != nil {
		rv, ok := item[m.idx.Range.Source.Name]
		if !ok {
			return nil, apperr.New(apperr.InvalidArgument, "item is missing key attribute %q", m.idx.Range.Source.Name)
		}
		delete(out, m.idx.Range.Source.Name)
		mapped, err := m.fields.Apply(ctx, *m.idx.Range, rv)
		if err != nil {
			return nil, err
		}
		out[m.idx.Range.Target.Name] = mapped
	}

	return out, nil
}

// Reverse undoes Apply: physical key attributes become virtual ones again,
// everything else is copied through unchanged.
func (m *ItemMapper) Reverse(ctx context.Context, item map[string]ddbtypes.AttributeValue) (map[string]ddbtypes.AttributeValue, error) {
	out := make(map[string]ddbtypes.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}

	hv, ok := item[m.idx.Hash.Target.Name]
	if !ok {
		return nil, apperr.New(apperr.Corrupt, "physical item is missing key attribute %q", m.idx.Hash.Target.Name)
	}
	delete(out, m.idx.Hash.Target.Name)
	mapped, err := m.fields.Reverse(ctx, m.idx.Hash, hv)
	if err != nil {
		return nil, err
	}
	out[m.idx.Hash.Source.Name] = mapped

	if m.idx.Range != nil {
		rv, ok := item[m.idx.Range.Target.Name]
		if !ok {
			return nil, apperr.New(apperr.Corrupt, "physical item is missing key attribute %q", m.idx.Range.Target.Name)
		}
		delete(out, m.idx.Range.Target.Name)
		mapped, err := m.fields.Reverse(ctx, *m.idx.Range, rv)
		if err != nil {
			return nil, err
		}
		out[m.idx.Range.Source.Name] = mapped
	}

	return out, nil
}

// KeyMapper is an ItemMapper restricted to key attributes only — used for
// BatchGetItem's Keys list and for exclusiveStartKey/lastEvaluatedKey, which
// in DynamoDB carry only key attributes, never projected ones.
type KeyMapper struct {
	item *ItemMapper
}

// NewKeyMapper builds a KeyMapper for the given index mapping.
func NewKeyMapper(fields *fieldmap.Mapper, idx tablemap.IndexMapping) *KeyMapper {
	return &KeyMapper{item: NewItemMapper(fields, idx)}
}

func (m *KeyMapper) Apply(ctx context.Context, key map[string]ddbtypes.AttributeValue) (map[string]ddbtypes.AttributeValue, error) {
	full, err := m.item.Apply(ctx, key)
	if err != nil {
		return nil, err
	}
	return onlyKeyAttrs(full, m.item.idx), nil
}

func (m *KeyMapper) Reverse(ctx context.Context, key map[string]ddbtypes.AttributeValue) (map[string]ddbtypes.AttributeValue, error) {
	full, err := m.item.Reverse(ctx, key)
	if err != nil {
		return nil, err
	}
	return onlyKeyAttrs(full, tablemap.IndexMapping{
		VirtualName:  m.item.idx.VirtualName,
		PhysicalName: m.item.idx.PhysicalName,
		Hash:         fieldmap.Mapping{Source: m.item.idx.Hash.Target, Target: m.item.idx.Hash.Source},
		Range:        reversedRange(m.item.idx.Range),
	}), nil
}

func reversedRange(r *fieldmap.Mapping) *fieldmap.Mapping {
	if r == nil {
		return nil
	}
	rev := fieldmap.Mapping{Source: r.Target, Target: r.Source}
	return &rev
}

func onlyKeyAttrs(m map[string]ddbtypes.AttributeValue, idx tablemap.IndexMapping) map[string]ddbtypes.AttributeValue {
	out := map[string]ddbtypes.AttributeValue{
		idx.Hash.Target.Name: m[idx.Hash.Target.Name],
	}
	if idx.Range != nil {
		out[idx.Range.Target.Name] = m[idx.Range.Target.Name]
	}
	return out
}
