// Package reqmap implements C4: the RequestWrapper capability interfaces
// over the real dynamodb.*Input/Output request shapes, and the Item/Key/
// Condition/QueryAndScan mappers that rewrite requests and responses through
// a TableMapping.
package reqmap

import (
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
)

// LegacyCondition normalizes DynamoDB's two legacy condition shapes
// (Expected for Put/Update/Delete, Condition for Query's KeyConditions and
// Scan's ScanFilter)
// into one shape ConditionMapper can treat uniformly.
type LegacyCondition struct {
	ComparisonOperator ddbtypes.ComparisonOperator
	AttributeValueList []ddbtypes.AttributeValue
	// Exists is set only for Expected-style entries that used the legacy
	// existence-check shape instead of a value comparison; it is never set
	// for Query/Scan's Condition-shaped entries.
	Exists *bool
}

// RequestWrapper generalizes Put/Update/Delete/Query/Scan requests over a
// common surface. Every method that does not apply to the wrapped request
// kind returns apperr.Unsupported (with ok=false where the method has one),
// except ScanWrapper.PrimaryExpression, which reports ok=false with a nil
// error because a Scan simply has no primary expression.
type RequestWrapper interface {
	ExpressionAttributeNames() map[string]string
	SetExpressionAttributeNames(map[string]string)

	ExpressionAttributeValues() map[string]ddbtypes.AttributeValue
	SetExpressionAttributeValues(map[string]ddbtypes.AttributeValue)

	// PrimaryExpression is the update expression for Update, the condition
	// expression for Put/Delete, or the key condition expression for Query.
	PrimaryExpression() (expr string, ok bool, err error)
	SetPrimaryExpression(expr string) error

	FilterExpression() (expr string, ok bool, err error)
	SetFilterExpression(expr string) error

	IndexName() (name string, ok bool, err error)
	SetIndexName(name string) error

	ExclusiveStartKey() (map[string]ddbtypes.AttributeValue, error)
	SetExclusiveStartKey(map[string]ddbtypes.AttributeValue) error

	LegacyCondition() (map[string]LegacyCondition, bool, error)
	SetLegacyCondition(map[string]LegacyCondition) error
}

func unsupported(op string) error {
	return apperr.New(apperr.Unsupported, "%s is not applicable to this request kind", op)
}
