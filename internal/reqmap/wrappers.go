package reqmap

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// legacyFromExpected and its inverse below normalize DynamoDB's old
// Value/Exists-style Expected entries into LegacyCondition: a Value entry
// becomes an EQ comparison against that value, and an Exists-only entry keeps
// its Exists flag with no comparison operator. Because ConditionMapper also renames
// the map's own keys (the attribute name) when a key attribute is mapped,
// reconstruction rebuilds the native map entirely from lc's keys rather than
// re-keying by the pre-rewrite original map.
func legacyFromExpected(exp map[string]ddbtypes.ExpectedAttributeValue) map[string]LegacyCondition {
	if exp == nil {
		return nil
	}
	out := make(map[string]LegacyCondition, len(exp))
	for k, v := range exp {
		lc := LegacyCondition{ComparisonOperator: v.ComparisonOperator, AttributeValueList: v.AttributeValueList}
		switch {
		case lc.ComparisonOperator == "" && v.Value != nil:
			lc.ComparisonOperator = ddbtypes.ComparisonOperatorEq
			lc.AttributeValueList = []ddbtypes.AttributeValue{v.Value}
		case lc.ComparisonOperator == "" && v.Exists != nil:
			lc.Exists = v.Exists
		}
		out[k] = lc
	}
	return out
}

func expectedFromLegacy(lc map[string]LegacyCondition) map[string]ddbtypes.ExpectedAttributeValue {
	if lc == nil {
		return nil
	}
	out := make(map[string]ddbtypes.ExpectedAttributeValue, len(lc))
	for k, v := range lc {
		if v.Exists != nil && v.ComparisonOperator == "" {
			out[k] = ddbtypes.ExpectedAttributeValue{Exists: v.Exists}
			continue
		}
		ev := ddbtypes.ExpectedAttributeValue{ComparisonOperator: v.ComparisonOperator, AttributeValueList: v.AttributeValueList}
		if v.ComparisonOperator == ddbtypes.ComparisonOperatorEq && len(v.AttributeValueList) == 1 {
			ev.Value = v.AttributeValueList[0]
			ev.AttributeValueList = nil
			ev.ComparisonOperator = ""
		}
		out[k] = ev
	}
	return out
}

func legacyFromCondition(cond map[string]ddbtypes.Condition) map[string]LegacyCondition {
	if cond == nil {
		return nil
	}
	out := make(map[string]LegacyCondition, len(cond))
	for k, v := range cond {
		out[k] = LegacyCondition{ComparisonOperator: v.ComparisonOperator, AttributeValueList: v.AttributeValueList}
	}
	return out
}

func conditionFromLegacy(lc map[string]LegacyCondition) map[string]ddbtypes.Condition {
	if lc == nil {
		return nil
	}
	out := make(map[string]ddbtypes.Condition, len(lc))
	for k, v := range lc {
		out[k] = ddbtypes.Condition{ComparisonOperator: v.ComparisonOperator, AttributeValueList: v.AttributeValueList}
	}
	return out
}

// ---- Put ----

type PutWrapper struct{ In *dynamodb.PutItemInput }

func (w PutWrapper) ExpressionAttributeNames() map[string]string { return w.In.ExpressionAttributeNames }
func (w PutWrapper) SetExpressionAttributeNames(m map[string]string) {
	w.In.ExpressionAttributeNames = m
}
func (w PutWrapper) ExpressionAttributeValues() map[string]ddbtypes.AttributeValue {
	return w.In.ExpressionAttributeValues
}
func (w PutWrapper) SetExpressionAttributeValues(m map[string]ddbtypes.AttributeValue) {
	w.In.ExpressionAttributeValues = m
}
func (w PutWrapper) PrimaryExpression() (string, bool, error) {
	if w.In.ConditionExpression == nil {
		return "", false, nil
	}
	return *w.In.ConditionExpression, true, nil
}
func (w PutWrapper) SetPrimaryExpression(expr string) error {
	w.In.ConditionExpression = &expr
	return nil
}
func (w PutWrapper) FilterExpression() (string, bool, error) { return "", false, unsupported("FilterExpression") }
func (w PutWrapper) SetFilterExpression(string) error        { return unsupported("SetFilterExpression") }
func (w PutWrapper) IndexName() (string, bool, error)        { return "", false, unsupported("IndexName") }
func (w PutWrapper) SetIndexName(string) error                { return unsupported("SetIndexName") }
func (w PutWrapper) ExclusiveStartKey() (map[string]ddbtypes.AttributeValue, error) {
	return nil, unsupported("ExclusiveStartKey")
}
func (w PutWrapper) SetExclusiveStartKey(map[string]ddbtypes.AttributeValue) error {
	return unsupported("SetExclusiveStartKey")
}
func (w PutWrapper) LegacyCondition() (map[string]LegacyCondition, bool, error) {
	return legacyFromExpected(w.In.Expected), w.In.Expected != nil, nil
}
func (w PutWrapper) SetLegacyCondition(lc map[string]LegacyCondition) error {
	w.In.Expected = expectedFromLegacy(lc)
	return nil
}

// ---- Update ----

type UpdateWrapper struct{ In *dynamodb.UpdateItemInput }

func (w UpdateWrapper) ExpressionAttributeNames() map[string]string {
	return w.In.ExpressionAttributeNames
}
func (w UpdateWrapper) SetExpressionAttributeNames(m map[string]string) {
	w.In.ExpressionAttributeNames = m
}
func (w UpdateWrapper) ExpressionAttributeValues() map[string]ddbtypes.AttributeValue {
	return w.In.ExpressionAttributeValues
}
func (w UpdateWrapper) SetExpressionAttributeValues(m map[string]ddbtypes.AttributeValue) {
	w.In.ExpressionAttributeValues = m
}
func (w UpdateWrapper) PrimaryExpression() (string, bool, error) {
	if w.In.UpdateExpression == nil {
		return "", false, nil
	}
	return *w.In.UpdateExpression, true, nil
}
func (w UpdateWrapper) SetPrimaryExpression(expr string) error {
	w.In.UpdateExpression = &expr
	return nil
}
func (w UpdateWrapper) FilterExpression() (string, bool, error) {
	if w.In.ConditionExpression == nil {
		return "", false, nil
	}
	return *w.In.ConditionExpression, true, nil
}
func (w UpdateWrapper) SetFilterExpression(expr string) error {
	w.In.ConditionExpression = &expr
	return nil
}
func (w UpdateWrapper) IndexName() (string, bool, error) { return "", false, unsupported("IndexName") }
func (w UpdateWrapper) SetIndexName(string) error         { return unsupported("SetIndexName") }
func (w UpdateWrapper) ExclusiveStartKey() (map[string]ddbtypes.AttributeValue, error) {
	return nil, unsupported("ExclusiveStartKey")
}
func (w UpdateWrapper) SetExclusiveStartKey(map[string]ddbtypes.AttributeValue) error {
	return unsupported("SetExclusiveStartKey")
}
func (w UpdateWrapper) LegacyCondition() (map[string]LegacyCondition, bool, error) {
	return legacyFromExpected(w.In.Expected), w.In.Expected != nil, nil
}
func (w UpdateWrapper) SetLegacyCondition(lc map[string]LegacyCondition) error {
	w.In.Expected = expectedFromLegacy(lc)
	return nil
}

// ---- Delete ----

type DeleteWrapper struct{ In *dynamodb.DeleteItemInput }

func (w DeleteWrapper) ExpressionAttributeNames() map[string]string {
	return w.In.ExpressionAttributeNames
}
func (w DeleteWrapper) SetExpressionAttributeNames(m map[string]string) {
	w.In.ExpressionAttributeNames = m
}
func (w DeleteWrapper) ExpressionAttributeValues() map[string]ddbtypes.AttributeValue {
	return w.In.ExpressionAttributeValues
}
func (w DeleteWrapper) SetExpressionAttributeValues(m map[string]ddbtypes.AttributeValue) {
	w.In.ExpressionAttributeValues = m
}
func (w DeleteWrapper) PrimaryExpression() (string, bool, error) {
	if w.In.ConditionExpression == nil {
		return "", false, nil
	}
	return *w.In.ConditionExpression, true, nil
}
func (w DeleteWrapper) SetPrimaryExpression(expr string) error {
	w.In.ConditionExpression = &expr
	return nil
}
func (w DeleteWrapper) FilterExpression() (string, bool, error) { return "", false, unsupported("FilterExpression") }
func (w DeleteWrapper) SetFilterExpression(string) error        { return unsupported("SetFilterExpression") }
func (w DeleteWrapper) IndexName() (string, bool, error)        { return "", false, unsupported("IndexName") }
func (w DeleteWrapper) SetIndexName(string) error                { return unsupported("SetIndexName") }
func (w DeleteWrapper) ExclusiveStartKey() (map[string]ddbtypes.AttributeValue, error) {
	return nil, unsupported("ExclusiveStartKey")
}
func (w DeleteWrapper) SetExclusiveStartKey(map[string]ddbtypes.AttributeValue) error {
	return unsupported("SetExclusiveStartKey")
}
func (w DeleteWrapper) LegacyCondition() (map[string]LegacyCondition, bool, error) {
	return legacyFromExpected(w.In.Expected), w.In.Expected != nil, nil
}
func (w DeleteWrapper) SetLegacyCondition(lc map[string]LegacyCondition) error {
	w.In.Expected = expectedFromLegacy(lc)
	return nil
}

// ---- Query ----

type QueryWrapper struct{ In *dynamodb.QueryInput }

func (w QueryWrapper) ExpressionAttributeNames() map[string]string {
	return w.In.ExpressionAttributeNames
}
func (w QueryWrapper) SetExpressionAttributeNames(m map[string]string) {
	w.In.ExpressionAttributeNames = m
}
func (w QueryWrapper) ExpressionAttributeValues() map[string]ddbtypes.AttributeValue {
	return w.In.ExpressionAttributeValues
}
func (w QueryWrapper) SetExpressionAttributeValues(m map[string]ddbtypes.AttributeValue) {
	w.In.ExpressionAttributeValues = m
}
func (w QueryWrapper) PrimaryExpression() (string, bool, error) {
	if w.In.KeyConditionExpression == nil {
		return "", false, nil
	}
	return *w.In.KeyConditionExpression, true, nil
}
func (w QueryWrapper) SetPrimaryExpression(expr string) error {
	w.In.KeyConditionExpression = &expr
	return nil
}
func (w QueryWrapper) FilterExpression() (string, bool, error) {
	if w.In.FilterExpression == nil {
		return "", false, nil
	}
	return *w.In.FilterExpression, true, nil
}
func (w QueryWrapper) SetFilterExpression(expr string) error {
	w.In.FilterExpression = &expr
	return nil
}
func (w QueryWrapper) IndexName() (string, bool, error) {
	if w.In.IndexName == nil {
		return "", false, nil
	}
	return *w.In.IndexName, true, nil
}
func (w QueryWrapper) SetIndexName(name string) error {
	w.In.IndexName = &name
	return nil
}
func (w QueryWrapper) ExclusiveStartKey() (map[string]ddbtypes.AttributeValue, error) {
	return w.In.ExclusiveStartKey, nil
}
func (w QueryWrapper) SetExclusiveStartKey(k map[string]ddbtypes.AttributeValue) error {
	w.In.ExclusiveStartKey = k
	return nil
}

// LegacyCondition exposes only KeyConditions; QueryFilter (the legacy filter
// shape) is out of scope and is never read or written here.
func (w QueryWrapper) LegacyCondition() (map[string]LegacyCondition, bool, error) {
	if w.In.QueryFilter != nil {
		return nil, false, unsupported("QueryFilter (legacy filter)")
	}
	return legacyFromCondition(w.In.KeyConditions), w.In.KeyConditions != nil, nil
}
func (w QueryWrapper) SetLegacyCondition(lc map[string]LegacyCondition) error {
	w.In.KeyConditions = conditionFromLegacy(lc)
	return nil
}

// ---- Scan ----

type ScanWrapper struct{ In *dynamodb.ScanInput }

func (w ScanWrapper) ExpressionAttributeNames() map[string]string {
	return w.In.ExpressionAttributeNames
}
func (w ScanWrapper) SetExpressionAttributeNames(m map[string]string) {
	w.In.ExpressionAttributeNames = m
}
func (w ScanWrapper) ExpressionAttributeValues() map[string]ddbtypes.AttributeValue {
	return w.In.ExpressionAttributeValues
}
func (w ScanWrapper) SetExpressionAttributeValues(m map[string]ddbtypes.AttributeValue) {
	w.In.ExpressionAttributeValues = m
}
func (w ScanWrapper) PrimaryExpression() (string, bool, error) { return "", false, nil }
func (w ScanWrapper) SetPrimaryExpression(string) error         { return unsupported("SetPrimaryExpression") }
func (w ScanWrapper) FilterExpression() (string, bool, error) {
	if w.In.FilterExpression == nil {
		return "", false, nil
	}
	return *w.In.FilterExpression, true, nil
}
func (w ScanWrapper) SetFilterExpression(expr string) error {
	w.In.FilterExpression = &expr
	return nil
}
func (w ScanWrapper) IndexName() (string, bool, error) {
	if w.In.IndexName == nil {
		return "", false, nil
	}
	return *w.In.IndexName, true, nil
}
func (w ScanWrapper) SetIndexName(name string) error {
	w.In.IndexName = &name
	return nil
}
func (w ScanWrapper) ExclusiveStartKey() (map[string]ddbtypes.AttributeValue, error) {
	return w.In.ExclusiveStartKey, nil
}
func (w ScanWrapper) SetExclusiveStartKey(k map[string]ddbtypes.AttributeValue) error {
	w.In.ExclusiveStartKey = k
	return nil
}
func (w ScanWrapper) LegacyCondition() (map[string]LegacyCondition, bool, error) {
	return legacyFromCondition(w.In.ScanFilter), w.In.ScanFilter != nil, nil
}
func (w ScanWrapper) SetLegacyCondition(lc map[string]LegacyCondition) error {
	w.In.ScanFilter = conditionFromLegacy(lc)
	return nil
}
