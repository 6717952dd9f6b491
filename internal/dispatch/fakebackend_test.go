package dispatch_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/store"
)

var _ store.BackingStore = (*fakeBackend)(nil)

// fakeBackend is an in-memory store.BackingStore double. It understands only
// the narrow expression shapes the façade itself produces (a single "=" key
// condition, optionally ANDed with a range-key comparison or begins_with,
// and an optional caller filter ANDed with the tenant-scope begins_with
// predicate) — it is not a general expression evaluator.
type fakeBackend struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
	// pageSize caps how many items Scan/Query return per call, so paging
	// behavior can be exercised deterministically.
	pageSize int
	// forceUnprocessed holds physical-table keys that BatchGetItem reports
	// back under UnprocessedKeys instead of resolving, so tests can exercise
	// the unprocessed-keys path deterministically.
	forceUnprocessed map[string][]map[string]ddbtypes.AttributeValue
	// failScan, when set, makes Scan/Query against the named physical table
	// return an error instead of a result.
	failScan map[string]bool
}

type fakeTable struct {
	hashAttr, rangeAttr string
	streamArn           string
	items               map[string]map[string]ddbtypes.AttributeValue
	order               []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tables: map[string]*fakeTable{}, pageSize: 1000}
}

func (b *fakeBackend) addTable(name, hashAttr, rangeAttr, streamArn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[name] = &fakeTable{hashAttr: hashAttr, rangeAttr: rangeAttr, streamArn: streamArn, items: map[string]map[string]ddbtypes.AttributeValue{}}
}

// forceKeyUnprocessed marks a physical key on physTable to come back under
// BatchGetItem's UnprocessedKeys instead of being resolved.
func (b *fakeBackend) forceKeyUnprocessed(physTable string, key map[string]ddbtypes.AttributeValue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forceUnprocessed == nil {
		b.forceUnprocessed = map[string][]map[string]ddbtypes.AttributeValue{}
	}
	b.forceUnprocessed[physTable] = append(b.forceUnprocessed[physTable], copyItem(key))
}

func avString(v ddbtypes.AttributeValue) string {
	switch t := v.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return "S:" + t.Value
	case *ddbtypes.AttributeValueMemberN:
		return "N:" + t.Value
	case *ddbtypes.AttributeValueMemberB:
		return "B:" + string(t.Value)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func itemKey(tbl *fakeTable, item map[string]ddbtypes.AttributeValue) string {
	k := avString(item[tbl.hashAttr])
	if tbl.rangeAttr != "" {
		k += "|" + avString(item[tbl.rangeAttr])
	}
	return k
}

func copyItem(item map[string]ddbtypes.AttributeValue) map[string]ddbtypes.AttributeValue {
	out := make(map[string]ddbtypes.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (b *fakeBackend) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl := b.tables[*in.TableName]
	item, ok := tbl.items[itemKey(tbl, in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (b *fakeBackend) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl := b.tables[*in.TableName]
	key := itemKey(tbl, in.Item)
	old, existed := tbl.items[key]
	tbl.items[key] = copyItem(in.Item)
	if !existed {
		tbl.order = append(tbl.order, key)
	}
	out := &dynamodb.PutItemOutput{}
	if in.ReturnValues == ddbtypes.ReturnValueAllOld && existed {
		out.Attributes = old
	}
	return out, nil
}

func (b *fakeBackend) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl := b.tables[*in.TableName]
	key := itemKey(tbl, in.Key)
	item, existed := tbl.items[key]
	if !existed {
		item = copyItem(in.Key)
	}
	tbl.items[key] = item
	if !existed {
		tbl.order = append(tbl.order, key)
	}
	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == ddbtypes.ReturnValueAllNew || in.ReturnValues == ddbtypes.ReturnValueAllOld {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func (b *fakeBackend) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl := b.tables[*in.TableName]
	key := itemKey(tbl, in.Key)
	old, existed := tbl.items[key]
	delete(tbl.items, key)
	if existed {
		for i, k := range tbl.order {
			if k == key {
				tbl.order = append(tbl.order[:i], tbl.order[i+1:]...)
				break
			}
		}
	}
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == ddbtypes.ReturnValueAllOld && existed {
		out.Attributes = old
	}
	return out, nil
}

func (b *fakeBackend) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]ddbtypes.AttributeValue{}}
	for tableName, kna := range in.RequestItems {
		tbl := b.tables[tableName]
		forced := b.forceUnprocessed[tableName]
		for _, k := range kna.Keys {
			if keyIsForced(forced, tbl, k) {
				if out.UnprocessedKeys == nil {
					out.UnprocessedKeys = map[string]ddbtypes.KeysAndAttributes{}
				}
				entry := out.UnprocessedKeys[tableName]
				entry.Keys = append(entry.Keys, copyItem(k))
				out.UnprocessedKeys[tableName] = entry
				continue
			}
			if item, ok := tbl.items[itemKey(tbl, k)]; ok {
				out.Responses[tableName] = append(out.Responses[tableName], copyItem(item))
			}
		}
	}
	return out, nil
}

func keyIsForced(forced []map[string]ddbtypes.AttributeValue, tbl *fakeTable, k map[string]ddbtypes.AttributeValue) bool {
	target := itemKey(tbl, k)
	for _, f := range forced {
		if itemKey(tbl, f) == target {
			return true
		}
	}
	return false
}

func (b *fakeBackend) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl, ok := b.tables[*in.TableName]
	if !ok {
		return &dynamodb.DescribeTableOutput{}, nil
	}
	desc := &ddbtypes.TableDescription{TableName: in.TableName, TableStatus: ddbtypes.TableStatusActive}
	if tbl.streamArn != "" {
		arn := tbl.streamArn
		desc.LatestStreamArn = &arn
	}
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

// clause is one ANDed predicate the fake's mini-evaluator understands.
type clause struct {
	op          string // "=", "<", "<=", ">", ">=", "begins_with"
	ref         string
	placeholder string
}

func parseClauses(expr string) []clause {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	var clauses []clause
	for _, part := range strings.Split(expr, " AND ") {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "()"))
		if strings.HasPrefix(part, "begins_with") {
			inner := strings.TrimSuffix(strings.TrimPrefix(part, "begins_with("), ")")
			bits := strings.SplitN(inner, ",", 2)
			clauses = append(clauses, clause{op: "begins_with", ref: strings.TrimSpace(bits[0]), placeholder: strings.TrimSpace(bits[1])})
			continue
		}
		for _, op := range []string{"<=", ">=", "=", "<", ">"} {
			if idx := strings.Index(part, " "+op+" "); idx >= 0 {
				clauses = append(clauses, clause{op: op, ref: strings.TrimSpace(part[:idx]), placeholder: strings.TrimSpace(part[idx+len(op)+2:])})
				break
			}
		}
	}
	return clauses
}

func resolveRefName(ref string, names map[string]string) string {
	if strings.HasPrefix(ref, "#") {
		if n, ok := names[ref]; ok {
			return n
		}
	}
	return ref
}

func evalClauses(clauses []clause, names map[string]string, values map[string]ddbtypes.AttributeValue, item map[string]ddbtypes.AttributeValue) bool {
	for _, c := range clauses {
		attr := resolveRefName(c.ref, names)
		v, ok := item[attr]
		if !ok {
			return false
		}
		want, ok := values[c.placeholder]
		if !ok {
			return false
		}
		switch c.op {
		case "=":
			if avString(v) != avString(want) {
				return false
			}
		case "begins_with":
			sv, ok1 := v.(*ddbtypes.AttributeValueMemberS)
			wv, ok2 := want.(*ddbtypes.AttributeValueMemberS)
			if !ok1 || !ok2 || !strings.HasPrefix(sv.Value, wv.Value) {
				return false
			}
		default:
			// <, <=, >, >= are not exercised by the tests against the fake; treat
			// as always-true to keep the evaluator minimal.
		}
	}
	return true
}

func (b *fakeBackend) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return b.scanLike(*in.TableName, in.KeyConditionExpression, in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, in.ExclusiveStartKey, in.Limit)
}

func (b *fakeBackend) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	out, err := b.scanLike(*in.TableName, nil, in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, in.ExclusiveStartKey, in.Limit)
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{Items: out.Items, Count: out.Count, ScannedCount: out.ScannedCount, LastEvaluatedKey: out.LastEvaluatedKey}, nil
}

func (b *fakeBackend) scanLike(tableName string, keyCondExpr, filterExpr *string, names map[string]string, values map[string]ddbtypes.AttributeValue, exclusiveStart map[string]ddbtypes.AttributeValue, limit *int32) (*dynamodb.QueryOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failScan[tableName] {
		return nil, fmt.Errorf("simulated backend failure scanning %q", tableName)
	}
	tbl := b.tables[tableName]

	var keyClauses, filterClauses []clause
	if keyCondExpr != nil {
		keyClauses = parseClauses(*keyCondExpr)
	}
	if filterExpr != nil {
		filterClauses = parseClauses(*filterExpr)
	}

	keys := append([]string(nil), tbl.order...)
	sort.Strings(keys)

	pageSize := b.pageSize
	if limit != nil && int(*limit) < pageSize {
		pageSize = int(*limit)
	}

	startIdx := 0
	if exclusiveStart != nil {
		startKey := itemKey(tbl, exclusiveStart)
		for i, k := range keys {
			if k == startKey {
				startIdx = i + 1
				break
			}
		}
	}

	var items []map[string]ddbtypes.AttributeValue
	var scanned int32
	var lastKey map[string]ddbtypes.AttributeValue
	// examined caps how many underlying rows this call looks at, mirroring
	// DynamoDB's real pagination: Limit/page-size bounds rows evaluated
	// against the key condition, not rows that survive the filter
	// expression, so a page can come back with zero items yet a non-nil
	// cursor.
	examined := 0
	i := startIdx
	for ; i < len(keys) && examined < pageSize; i++ {
		item := tbl.items[keys[i]]
		scanned++
		examined++
		if !evalClauses(keyClauses, names, values, item) {
			continue
		}
		if !evalClauses(filterClauses, names, values, item) {
			continue
		}
		items = append(items, copyItem(item))
	}
	if i < len(keys) {
		lastKey = copyKeyOnly(tbl, tbl.items[keys[i-1]])
	}

	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items)), ScannedCount: scanned, LastEvaluatedKey: lastKey}, nil
}

func copyKeyOnly(tbl *fakeTable, item map[string]ddbtypes.AttributeValue) map[string]ddbtypes.AttributeValue {
	out := map[string]ddbtypes.AttributeValue{tbl.hashAttr: item[tbl.hashAttr]}
	if tbl.rangeAttr != "" {
		out[tbl.rangeAttr] = item[tbl.rangeAttr]
	}
	return out
}
