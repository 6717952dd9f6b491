// Package avattr provides scalar-kind coercion over ddbtypes.AttributeValue:
// the S/N/B conversions the prefix codec and field mapper need to move a
// virtual scalar value into and out of a physical attribute of a possibly
// different kind.
package avattr

import (
	"math/big"
	"strings"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
)

// Kind is one of DynamoDB's three scalar attribute kinds. Sets, lists, maps,
// bools and null are never key or index attributes and are out of scope for
// this package.
type Kind string

const (
	KindS Kind = "S"
	KindN Kind = "N"
	KindB Kind = "B"
)

// ScalarKind reports the scalar kind of v, or false if v is not one of S/N/B.
func ScalarKind(v ddbtypes.AttributeValue) (Kind, bool) {
	switch v.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return KindS, true
	case *ddbtypes.AttributeValueMemberN:
		return KindN, true
	case *ddbtypes.AttributeValueMemberB:
		return KindB, true
	default:
		return "", false
	}
}

// AsString returns v's value coerced to a string. An N value is canonicalized
// to its exact decimal form first, so that two different textual
// representations of the same number (e.g. "1.50" and "1.5") always produce
// the same string. A B value is not string-coercible — use AsBytes instead.
func AsString(v ddbtypes.AttributeValue) (string, error) {
	switch t := v.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return t.Value, nil
	case *ddbtypes.AttributeValueMemberN:
		return CanonicalDecimal(t.Value)
	default:
		return "", apperr.New(apperr.Unsupported, "attribute value of kind %T is not string-coercible", v)
	}
}

// AsBytes returns v's value as raw bytes: a B value's bytes directly, or the
// UTF-8 bytes of an S/N value's string form.
func AsBytes(v ddbtypes.AttributeValue) ([]byte, error) {
	switch t := v.(type) {
	case *ddbtypes.AttributeValueMemberB:
		return t.Value, nil
	case *ddbtypes.AttributeValueMemberS:
		return []byte(t.Value), nil
	case *ddbtypes.AttributeValueMemberN:
		s, err := CanonicalDecimal(t.Value)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return nil, apperr.New(apperr.Unsupported, "attribute value of kind %T is not byte-coercible", v)
	}
}

// FromStringAs builds an AttributeValue of the given kind from a decoded
// string. N is only reachable when the string is itself a canonical decimal
// (the decode side never needs to re-derive a number from non-numeric text).
func FromStringAs(kind Kind, s string) (ddbtypes.AttributeValue, error) {
	switch kind {
	case KindS:
		return &ddbtypes.AttributeValueMemberS{Value: s}, nil
	case KindN:
		if _, err := CanonicalDecimal(s); err != nil {
			return nil, err
		}
		return &ddbtypes.AttributeValueMemberN{Value: s}, nil
	case KindB:
		return &ddbtypes.AttributeValueMemberB{Value: []byte(s)}, nil
	default:
		return nil, apperr.New(apperr.Internal, "unknown scalar kind %q", kind)
	}
}

// FromBytesAs builds an AttributeValue of the given kind from raw bytes.
func FromBytesAs(kind Kind, b []byte) (ddbtypes.AttributeValue, error) {
	switch kind {
	case KindB:
		return &ddbtypes.AttributeValueMemberB{Value: b}, nil
	case KindS:
		return &ddbtypes.AttributeValueMemberS{Value: string(b)}, nil
	case KindN:
		if _, err := CanonicalDecimal(string(b)); err != nil {
			return nil, err
		}
		return &ddbtypes.AttributeValueMemberN{Value: string(b)}, nil
	default:
		return nil, apperr.New(apperr.Internal, "unknown scalar kind %q", kind)
	}
}

// CanonicalDecimal normalizes a DynamoDB N value's decimal text to a single
// exact form (no leading '+', no superfluous leading zeros, no trailing
// fractional zeros), using arbitrary-precision rationals so normalization
// never loses precision the way a float64 round-trip would.
func CanonicalDecimal(s string) (string, error) {
	s = strings.TrimSpace(s)
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", apperr.New(apperr.InvalidArgument, "malformed numeric attribute value %q", s)
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}
	return strings.TrimRight(strings.TrimRight(r.FloatString(40), "0"), "."), nil
}

// Coerce converts v into an attribute value of the target scalar kind,
// without applying any tenant prefix. Used for non-context-aware field
// mappings (plain type coercion between a virtual and physical attribute of
// differing declared kinds).
func Coerce(target Kind, v ddbtypes.AttributeValue) (ddbtypes.AttributeValue, error) {
	srcKind, ok := ScalarKind(v)
	if !ok {
		return nil, apperr.New(apperr.Unsupported, "value of type %T is not a scalar attribute", v)
	}
	if srcKind == target {
		return v, nil
	}
	switch target {
	case KindB:
		b, err := AsBytes(v)
		if err != nil {
			return nil, err
		}
		return FromBytesAs(target, b)
	default:
		s, err := AsString(v)
		if err != nil {
			return nil, err
		}
		return FromStringAs(target, s)
	}
}
