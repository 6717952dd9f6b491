package prefixcodec_test

import (
	"testing"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablemux/internal/apperr"
	"tablemux/internal/avattr"
	"tablemux/internal/prefixcodec"
	"tablemux/internal/tenant"
)

// TestStringRoundTrip covers P1: Reverse(Apply(t, idx, v)) == (t, idx, v).
func TestStringRoundTrip(t *testing.T) {
	var f prefixcodec.String
	encoded, err := f.Apply(tenant.ID("acme"), "orders", &ddbtypes.AttributeValueMemberS{Value: "o-1"})
	require.NoError(t, err)

	gotT, gotIdx, gotVal, err := f.Reverse(encoded)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID("acme"), gotT)
	assert.Equal(t, "orders", gotIdx)
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "o-1"}, gotVal)
}

func TestBinaryRoundTrip(t *testing.T) {
	var f prefixcodec.Binary
	raw := []byte{0xde, 0xad, 0xbe, 0xef, '.'}
	encoded, err := f.Apply(tenant.ID("acme"), "orders", &ddbtypes.AttributeValueMemberB{Value: raw})
	require.NoError(t, err)

	gotT, gotIdx, gotVal, err := f.Reverse(encoded)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID("acme"), gotT)
	assert.Equal(t, "orders", gotIdx)
	assert.Equal(t, &ddbtypes.AttributeValueMemberB{Value: raw}, gotVal)
}

// TestDelimiterRejection covers P3: a tenant or index name carrying the
// reserved delimiter is rejected rather than silently misencoded.
func TestDelimiterRejection(t *testing.T) {
	var f prefixcodec.String
	_, err := f.Apply(tenant.ID("ac.me"), "orders", &ddbtypes.AttributeValueMemberS{Value: "x"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = f.Apply(tenant.ID("acme"), "ord.ers", &ddbtypes.AttributeValueMemberS{Value: "x"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestStringReverseRejectsWrongKind(t *testing.T) {
	var f prefixcodec.String
	_, _, _, err := f.Reverse(&ddbtypes.AttributeValueMemberB{Value: []byte("x")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Corrupt))
}

func TestStringReverseRejectsMissingDelimiters(t *testing.T) {
	var f prefixcodec.String
	_, _, _, err := f.Reverse(&ddbtypes.AttributeValueMemberS{Value: "no-delimiters-here"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Corrupt))
}

func TestForSelectsByKind(t *testing.T) {
	f, err := prefixcodec.For(avattr.KindS)
	require.NoError(t, err)
	assert.IsType(t, prefixcodec.String{}, f)

	f, err = prefixcodec.For(avattr.KindB)
	require.NoError(t, err)
	assert.IsType(t, prefixcodec.Binary{}, f)

	_, err = prefixcodec.For(avattr.KindN)
	assert.Error(t, err)
}

func TestNumericValueIsCanonicalizedBeforeEncoding(t *testing.T) {
	var f prefixcodec.String
	encoded, err := f.Apply(tenant.ID("acme"), "byprice", &ddbtypes.AttributeValueMemberN{Value: "1.50"})
	require.NoError(t, err)
	_, _, val, err := f.Reverse(encoded)
	require.NoError(t, err)
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "1.5"}, val)
}
