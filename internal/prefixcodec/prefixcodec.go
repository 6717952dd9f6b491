// Package prefixcodec implements FieldPrefixFunction (spec C1): the
// reversible encoding of (tenant, virtual index name, value) into a single
// physical scalar value, in both the string and binary physical
// representations.
package prefixcodec

import (
	"bytes"
	"strings"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/avattr"
	"tablemux/internal/tenant"
)

// StringDelim separates the three components of a string-encoded prefix.
const StringDelim = "."

// ByteDelim is the binary equivalent of StringDelim.
const ByteDelim byte = '.'

// Func is a FieldPrefixFunction: it encodes (tenant, index, value) into one
// physical attribute value and decodes it back.
type Func interface {
	// Apply encodes value under the given tenant and virtual index name.
	Apply(t tenant.ID, indexName string, value ddbtypes.AttributeValue) (ddbtypes.AttributeValue, error)
	// Reverse decodes an encoded physical value back into its three parts.
	Reverse(encoded ddbtypes.AttributeValue) (t tenant.ID, indexName string, value ddbtypes.AttributeValue, err error)
}

// ValidateComponent rejects a tenant id or index name that contains the
// reserved delimiter — such a name could never be unambiguously decoded back
// out of an encoded prefix.
func ValidateComponent(s, what string) error {
	if strings.Contains(s, StringDelim) {
		return apperr.New(apperr.InvalidArgument, "%s %q contains the reserved delimiter %q", what, s, StringDelim)
	}
	return nil
}

// String is the FieldPrefixFunction whose physical representation is a
// DynamoDB S value: "<tenant>.<indexName>.<value>".
type String struct{}

func (String) Apply(t tenant.ID, indexName string, value ddbtypes.AttributeValue) (ddbtypes.AttributeValue, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateComponent(string(t), "tenant id"); err != nil {
		return nil, err
	}
	if err := ValidateComponent(indexName, "index name"); err != nil {
		return nil, err
	}
	s, err := avattr.AsString(value)
	if err != nil {
		return nil, err
	}
	encoded := string(t) + StringDelim + indexName + StringDelim + s
	return &ddbtypes.AttributeValueMemberS{Value: encoded}, nil
}

func (String) Reverse(encoded ddbtypes.AttributeValue) (tenant.ID, string, ddbtypes.AttributeValue, error) {
	sv, ok := encoded.(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return "", "", nil, apperr.New(apperr.Corrupt, "expected physical kind S, got %T", encoded)
	}
	first := strings.Index(sv.Value, StringDelim)
	if first < 0 {
		return "", "", nil, apperr.New(apperr.Corrupt, "encoded value %q is missing the tenant delimiter", sv.Value)
	}
	rest := sv.Value[first+1:]
	second := strings.Index(rest, StringDelim)
	if second < 0 {
		return "", "", nil, apperr.New(apperr.Corrupt, "encoded value %q is missing the index delimiter", sv.Value)
	}
	t := tenant.ID(sv.Value[:first])
	idx := rest[:second]
	val := rest[second+1:]
	return t, idx, &ddbtypes.AttributeValueMemberS{Value: val}, nil
}

// Binary is the FieldPrefixFunction whose physical representation is a
// DynamoDB B value: the UTF-8 bytes of "<tenant>.<indexName>." followed by
// the value's raw bytes, untouched even if they themselves contain the
// delimiter byte.
type Binary struct{}

func (Binary) Apply(t tenant.ID, indexName string, value ddbtypes.AttributeValue) (ddbtypes.AttributeValue, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateComponent(string(t), "tenant id"); err != nil {
		return nil, err
	}
	if err := ValidateComponent(indexName, "index name"); err != nil {
		return nil, err
	}
	b, err := avattr.AsBytes(value)
	if err != nil {
		return nil, err
	}
	prefix := string(t) + StringDelim + indexName + StringDelim
	encoded := make([]byte, 0, len(prefix)+len(b))
	encoded = append(encoded, prefix...)
	encoded = append(encoded, b...)
	return &ddbtypes.AttributeValueMemberB{Value: encoded}, nil
}

func (Binary) Reverse(encoded ddbtypes.AttributeValue) (tenant.ID, string, ddbtypes.AttributeValue, error) {
	bv, ok := encoded.(*ddbtypes.AttributeValueMemberB)
	if !ok {
		return "", "", nil, apperr.New(apperr.Corrupt, "expected physical kind B, got %T", encoded)
	}
	first := bytes.IndexByte(bv.Value, ByteDelim)
	if first < 0 {
		return "", "", nil, apperr.New(apperr.Corrupt, "encoded value is missing the tenant delimiter")
	}
	rest := bv.Value[first+1:]
	second := bytes.IndexByte(rest, ByteDelim)
	if second < 0 {
		return "", "", nil, apperr.New(apperr.Corrupt, "encoded value is missing the index delimiter")
	}
	t := tenant.ID(bv.Value[:first])
	idx := string(rest[:second])
	val := append([]byte(nil), rest[second+1:]...)
	return t, idx, &ddbtypes.AttributeValueMemberB{Value: val}, nil
}

// For selects the FieldPrefixFunction whose physical representation matches
// kind. Only S and B are valid physical prefix-carrying kinds.
func For(kind avattr.Kind) (Func, error) {
	switch kind {
	case avattr.KindS:
		return String{}, nil
	case avattr.KindB:
		return Binary{}, nil
	default:
		return nil, apperr.New(apperr.Internal, "kind %q cannot carry a tenant prefix", kind)
	}
}
