package reqmap_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablemux/internal/apperr"
	"tablemux/internal/reqmap"
)

func aliasFor(names map[string]string, target string) string {
	for alias, n := range names {
		if n == target {
			return alias
		}
	}
	return ""
}

func TestConditionMapperRewritesQueryKeyCondition(t *testing.T) {
	ctx, fields := ctxWithTenant("acme")
	tm := buildMapping(t, "orders", true)
	cm := reqmap.NewConditionMapper(fields)

	expr := "id = :cid AND begins_with(sort, :prefix)"
	in := &dynamodb.QueryInput{
		KeyConditionExpression: &expr,
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":cid":    &ddbtypes.AttributeValueMemberS{Value: "cust-1"},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: "ord-"},
		},
	}
	w := reqmap.QueryWrapper{In: in}

	err := cm.Apply(ctx, tm.PrimaryIndexMapping(), w)
	require.NoError(t, err)

	pkAlias := aliasFor(in.ExpressionAttributeNames, "pk")
	skAlias := aliasFor(in.ExpressionAttributeNames, "sk")
	require.NotEmpty(t, pkAlias)
	require.NotEmpty(t, skAlias)
	assert.Contains(t, *in.KeyConditionExpression, pkAlias)
	assert.Contains(t, *in.KeyConditionExpression, skAlias)

	encodedCid, ok := in.ExpressionAttributeValues[":cid"].(*ddbtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Contains(t, encodedCid.Value, "acme.")

	encodedPrefix, ok := in.ExpressionAttributeValues[":prefix"].(*ddbtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Contains(t, encodedPrefix.Value, "acme.")
}

func TestConditionMapperRewritesLegacyExpectedOnPut(t *testing.T) {
	ctx, fields := ctxWithTenant("acme")
	tm := buildMapping(t, "orders", false)
	cm := reqmap.NewConditionMapper(fields)

	in := &dynamodb.PutItemInput{
		Expected: map[string]ddbtypes.ExpectedAttributeValue{
			"id": {Value: &ddbtypes.AttributeValueMemberS{Value: "cust-1"}},
		},
	}
	w := reqmap.PutWrapper{In: in}

	err := cm.Apply(ctx, tm.PrimaryIndexMapping(), w)
	require.NoError(t, err)

	require.Contains(t, in.Expected, "pk")
	encoded, ok := in.Expected["pk"].Value.(*ddbtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Contains(t, encoded.Value, "acme.")
}

func TestConditionMapperPreservesExistsOnLegacyExpected(t *testing.T) {
	ctx, fields := ctxWithTenant("acme")
	tm := buildMapping(t, "orders", false)
	cm := reqmap.NewConditionMapper(fields)

	no := false
	in := &dynamodb.PutItemInput{
		Expected: map[string]ddbtypes.ExpectedAttributeValue{
			"id": {Exists: &no},
		},
	}
	w := reqmap.PutWrapper{In: in}

	err := cm.Apply(ctx, tm.PrimaryIndexMapping(), w)
	require.NoError(t, err)

	require.Contains(t, in.Expected, "pk")
	require.NotNil(t, in.Expected["pk"].Exists)
	assert.False(t, *in.Expected["pk"].Exists)
}

func TestConditionMapperRejectsAttributeTargetedByBothForms(t *testing.T) {
	ctx, fields := ctxWithTenant("acme")
	tm := buildMapping(t, "orders", false)
	cm := reqmap.NewConditionMapper(fields)

	expr := "attribute_exists(id)"
	in := &dynamodb.PutItemInput{
		ConditionExpression: &expr,
		Expected: map[string]ddbtypes.ExpectedAttributeValue{
			"id": {Value: &ddbtypes.AttributeValueMemberS{Value: "cust-1"}},
		},
	}
	w := reqmap.PutWrapper{In: in}

	err := cm.Apply(ctx, tm.PrimaryIndexMapping(), w)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestConditionMapperLeavesNonKeyAttributesUntouched(t *testing.T) {
	ctx, fields := ctxWithTenant("acme")
	tm := buildMapping(t, "orders", false)
	cm := reqmap.NewConditionMapper(fields)

	expr := "attribute_exists(total)"
	in := &dynamodb.PutItemInput{ConditionExpression: &expr}
	w := reqmap.PutWrapper{In: in}

	err := cm.Apply(ctx, tm.PrimaryIndexMapping(), w)
	require.NoError(t, err)
	assert.Equal(t, "attribute_exists(total)", *in.ConditionExpression)
}
