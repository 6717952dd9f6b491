package reqmap

import (
	"context"
	"fmt"
	"strings"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/fieldmap"
	"tablemux/internal/prefixcodec"
	"tablemux/internal/tablemap"
	"tablemux/internal/tenant"
)

// QueryAndScanMapper rewrites Query and Scan requests: resolving the target
// index, delegating expression rewriting to ConditionMapper, rewriting the
// paging cursor, and injecting the tenant-scoping predicate a Scan needs
// since, unlike Query, it has no key condition to naturally restrict it to
// one tenant's rows.
type QueryAndScanMapper struct {
	tm      *tablemap.TableMapping
	fields  *fieldmap.Mapper
	cond    *ConditionMapper
	tenants tenant.Provider
}

// NewQueryAndScanMapper builds a QueryAndScanMapper bound to one table's
// mapping.
func NewQueryAndScanMapper(tm *tablemap.TableMapping, fields *fieldmap.Mapper, tenants tenant.Provider) *QueryAndScanMapper {
	return &QueryAndScanMapper{tm: tm, fields: fields, cond: NewConditionMapper(fields), tenants: tenants}
}

// ResolveIndex maps a caller-supplied (possibly empty) virtual index name to
// its IndexMapping, failing InvalidArgument if unknown.
func (q *QueryAndScanMapper) ResolveIndex(indexName string) (tablemap.IndexMapping, error) {
	idx, ok := q.tm.IndexMapping(indexName)
	if !ok {
		return tablemap.IndexMapping{}, apperr.New(apperr.InvalidArgument, "unknown index %q on table %q", indexName, q.tm.Virtual.Name)
	}
	return idx, nil
}

// ApplyQuery rewrites a Query request in place.
func (q *QueryAndScanMapper) ApplyQuery(ctx context.Context, w RequestWrapper) error {
	idxName, _, err := w.IndexName()
	if err != nil {
		return err
	}
	idx, err := q.ResolveIndex(idxName)
	if err != nil {
		return err
	}
	if err := q.cond.Apply(ctx, idx, w); err != nil {
		return err
	}
	if idxName != "" {
		if err := w.SetIndexName(idx.PhysicalName); err != nil {
			return err
		}
	}
	return q.rewriteExclusiveStartKey(ctx, idx, w)
}

// ApplyScan rewrites a Scan request in place, additionally checking the
// projection-contains-key invariant and injecting the tenant-scoping filter.
func (q *QueryAndScanMapper) ApplyScan(ctx context.Context, w RequestWrapper, projectionExpr string, attributesToGet []string) error {
	idxName, _, err := w.IndexName()
	if err != nil {
		return err
	}
	idx, err := q.ResolveIndex(idxName)
	if err != nil {
		return err
	}
	if err := q.cond.Apply(ctx, idx, w); err != nil {
		return err
	}
	if idxName != "" {
		if err := w.SetIndexName(idx.PhysicalName); err != nil {
			return err
		}
	}
	if err := q.rewriteExclusiveStartKey(ctx, idx, w); err != nil {
		return err
	}
	if projectionExpr != "" || len(attributesToGet) > 0 {
		if !projectionContainsKey(projectionExpr, attributesToGet, w.ExpressionAttributeNames(), idx) {
			return apperr.New(apperr.InvalidArgument, "projection for index %q must include its key attributes", idxName)
		}
	}
	return q.addTenantScopeFilter(ctx, idx, w)
}

func (q *QueryAndScanMapper) rewriteExclusiveStartKey(ctx context.Context, idx tablemap.IndexMapping, w RequestWrapper) error {
	eks, err := w.ExclusiveStartKey()
	if err != nil {
		return err
	}
	if eks == nil {
		return nil
	}
	km := NewKeyMapper(q.fields, idx)
	rewritten, err := km.Apply(ctx, eks)
	if err != nil {
		return err
	}
	return w.SetExclusiveStartKey(rewritten)
}

// projectionContainsKey is a naive substring/alias-membership check: it
// looks for the index's key attribute names (or any alias bound to them)
// as substrings of the projection text or as entries of the attribute list. This is
// deliberately not a full expression-attribute grammar (see DESIGN.md).
func projectionContainsKey(projectionExpr string, attributesToGet []string, names map[string]string, idx tablemap.IndexMapping) bool {
	want := []string{idx.Hash.Source.Name}
	if idx.Range != nil {
		want = append(want, idx.Range.Source.Name)
	}
	for _, attr := range want {
		if !containsAttr(projectionExpr, attributesToGet, names, attr) {
			return false
		}
	}
	return true
}

func containsAttr(expr string, list []string, names map[string]string, attr string) bool {
	for _, a := range list {
		if a == attr {
			return true
		}
	}
	if expr == "" {
		return false
	}
	if strings.Contains(expr, attr) {
		return true
	}
	for alias, n := range names {
		if n == attr && strings.Contains(expr, alias) {
			return true
		}
	}
	return false
}

// addTenantScopeFilter ANDs a begins_with(<hash alias>, :<tenant-prefix>)
// predicate onto the filter expression, restricting physical-page rows to
// the current tenant's slice of the shared hash-key namespace. Scan has no
// key condition to do this naturally, unlike Query.
func (q *QueryAndScanMapper) addTenantScopeFilter(ctx context.Context, idx tablemap.IndexMapping, w RequestWrapper) error {
	t, err := q.tenants.Current(ctx)
	if err != nil {
		return err
	}

	names := w.ExpressionAttributeNames()
	if names == nil {
		names = map[string]string{}
	}
	values := w.ExpressionAttributeValues()
	if values == nil {
		values = map[string]ddbtypes.AttributeValue{}
	}

	alias := nextAlias(names, idx.Hash.Target.Name)
	names[alias] = idx.Hash.Target.Name

	placeholder := nextValuePlaceholder(values, "tmscope")
	prefixLiteral := string(t) + prefixcodec.StringDelim + idx.Hash.VirtualIndexName + prefixcodec.StringDelim
	var prefixVal ddbtypes.AttributeValue
	if idx.Hash.Target.Kind == "B" {
		prefixVal = &ddbtypes.AttributeValueMemberB{Value: []byte(prefixLiteral)}
	} else {
		prefixVal = &ddbtypes.AttributeValueMemberS{Value: prefixLiteral}
	}
	values[placeholder] = prefixVal

	predicate := "begins_with(" + alias + ", " + placeholder + ")"
	existing, ok, err := w.FilterExpression()
	if err != nil {
		return err
	}
	if ok && existing != "" {
		predicate = "(" + existing + ") AND " + predicate
	}

	w.SetExpressionAttributeNames(names)
	w.SetExpressionAttributeValues(values)
	return w.SetFilterExpression(predicate)
}

func nextValuePlaceholder(values map[string]ddbtypes.AttributeValue, base string) string {
	candidate := ":" + base
	for suffix := 0; ; suffix++ {
		if _, taken := values[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf(":%s_%d", base, suffix)
	}
}
