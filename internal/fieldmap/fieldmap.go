// Package fieldmap implements FieldMapper (spec C2): apply/reverse of a
// single scalar attribute between its virtual and physical representation,
// optionally tenant-prefix-encoded.
package fieldmap

import (
	"context"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/avattr"
	"tablemux/internal/prefixcodec"
	"tablemux/internal/tenant"
)

// IndexType distinguishes a table's primary key from a secondary index, for
// the sake of choosing which virtual index name gets embedded in a prefix.
type IndexType string

const (
	Table          IndexType = "TABLE"
	SecondaryIndex IndexType = "SECONDARY_INDEX"
)

// ScalarField names one scalar attribute and its declared kind.
type ScalarField struct {
	Name string
	Kind avattr.Kind
}

// Mapping describes how one virtual scalar attribute is carried by one
// physical attribute.
type Mapping struct {
	// Source is the virtual attribute, as the caller names and types it.
	Source ScalarField
	// Target is the physical attribute actually stored in the backing table.
	Target ScalarField
	// VirtualIndexName is embedded in the tenant prefix so that two
	// different virtual indexes sharing the same physical column don't
	// collide. For the table's own primary key this is the virtual table
	// name; for a secondary index it is the virtual index name.
	VirtualIndexName string
	// PhysicalIndexName is the name of the physical index (or "" for the
	// base table) this mapping belongs to.
	PhysicalIndexName string
	IndexType         IndexType
	// ContextAware marks a mapping that must be tenant-prefix-encoded. Plain
	// scalar-kind coercion (no prefix) is used otherwise — any physical
	// attribute that is not a table or index key.
	ContextAware bool
}

// Mapper applies and reverses Mappings.
type Mapper struct {
	tenants tenant.Provider
}

// New constructs a Mapper bound to a tenant.Provider.
func New(tenants tenant.Provider) *Mapper {
	return &Mapper{tenants: tenants}
}

func prefixFor(kind avattr.Kind) (prefixcodec.Func, error) {
	return prefixcodec.For(kind)
}

// Apply maps a virtual value down to its physical representation.
func (m *Mapper) Apply(ctx context.Context, fm Mapping, v ddbtypes.AttributeValue) (ddbtypes.AttributeValue, error) {
	if v == nil {
		return nil, apperr.New(apperr.InvalidArgument, "missing value for attribute %q", fm.Source.Name)
	}
	if !fm.ContextAware {
		return avattr.Coerce(fm.Target.Kind, v)
	}
	t, err := m.tenants.Current(ctx)
	if err != nil {
		return nil, err
	}
	pf, err := prefixFor(fm.Target.Kind)
	if err != nil {
		return nil, err
	}
	return pf.Apply(t, fm.VirtualIndexName, v)
}

// Reverse maps a physical value back up to its virtual representation,
// verifying (for context-aware mappings) that the embedded tenant matches
// the caller's current tenant.
func (m *Mapper) Reverse(ctx context.Context, fm Mapping, v ddbtypes.AttributeValue) (ddbtypes.AttributeValue, error) {
	if v == nil {
		return nil, apperr.New(apperr.InvalidArgument, "missing value for attribute %q", fm.Target.Name)
	}
	if !fm.ContextAware {
		return avattr.Coerce(fm.Source.Kind, v)
	}
	pf, err := prefixFor(fm.Target.Kind)
	if err != nil {
		return nil, err
	}
	decodedTenant, decodedIndex, raw, err := pf.Reverse(v)
	if err != nil {
		return nil, err
	}
	current, err := m.tenants.Current(ctx)
	if err != nil {
		return nil, err
	}
	if decodedTenant != current {
		return nil, apperr.New(apperr.Corrupt, "decoded tenant %q does not match current tenant %q", decodedTenant, current)
	}
	if decodedIndex != fm.VirtualIndexName {
		return nil, apperr.New(apperr.Corrupt, "decoded index name %q does not match expected %q", decodedIndex, fm.VirtualIndexName)
	}
	return avattr.Coerce(fm.Source.Kind, raw)
}
