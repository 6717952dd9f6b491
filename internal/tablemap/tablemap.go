// Package tablemap implements TableMappingFactory and TableMapping (spec
// C3): matching a tenant's virtual table schema against a fixed catalog of
// physical tables by structural signature, and building the set of
// FieldMappings that realize that match.
package tablemap

import (
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/avattr"
	"tablemux/internal/fieldmap"
)

// KeyAttr names one key attribute and its declared scalar kind.
type KeyAttr struct {
	Name string
	Kind avattr.Kind
}

// PrimaryKey is a hash key and an optional range key.
type PrimaryKey struct {
	Hash  KeyAttr
	Range *KeyAttr
}

// Projection describes what a secondary index carries along with its key.
type Projection struct {
	Type             ddbtypes.ProjectionType
	NonKeyAttributes []string
}

// SecondaryIndex is one virtual secondary index declaration.
type SecondaryIndex struct {
	VirtualName string
	Key         PrimaryKey
	Projection  Projection
}

// VirtualTableSchema is a tenant's view of one virtual table: its own
// primary key and secondary indexes, exactly as DynamoDB would describe it
// natively, never revealing that it is colocated with anything else.
type VirtualTableSchema struct {
	Name          string
	Key           PrimaryKey
	Indexes       []SecondaryIndex
	StreamEnabled bool
}

// PhysicalIndex is one named secondary index on a physical table.
type PhysicalIndex struct {
	Name       string
	Key        PrimaryKey
	Projection Projection
}

// PhysicalTable is one entry in the fixed, startup-provisioned catalog of
// backing tables that virtual tables are colocated onto.
type PhysicalTable struct {
	Name    string
	Key     PrimaryKey
	Indexes []PhysicalIndex
}

// IndexMapping is the realized mapping for one virtual index (or, when
// VirtualName is "", the table's own primary key) onto one physical index.
type IndexMapping struct {
	VirtualName  string
	PhysicalName string
	Hash         fieldmap.Mapping
	Range        *fieldmap.Mapping
}

// TableMapping is the built result of matching one virtual schema against
// the physical catalog: which physical table it lives on, and how its
// primary key and each secondary index map onto that table's key and
// indexes.
type TableMapping struct {
	Virtual  VirtualTableSchema
	Physical PhysicalTable

	primary IndexMapping
	indexes map[string]IndexMapping
}

// PrimaryIndexMapping returns the mapping for the virtual table's own
// primary key.
func (tm *TableMapping) PrimaryIndexMapping() IndexMapping { return tm.primary }

// IndexMapping looks up the mapping for a named virtual secondary index.
func (tm *TableMapping) IndexMapping(virtualName string) (IndexMapping, bool) {
	if virtualName == "" {
		return tm.primary, true
	}
	im, ok := tm.indexes[virtualName]
	return im, ok
}

// Factory matches virtual schemas against a fixed catalog of physical
// tables.
type Factory struct {
	physicals []PhysicalTable
}

// NewFactory builds a Factory over a fixed physical table catalog. The
// catalog is provisioned once at startup and never mutated afterward.
func NewFactory(physicals []PhysicalTable) *Factory {
	cp := make([]PhysicalTable, len(physicals))
	copy(cp, physicals)
	return &Factory{physicals: cp}
}

// Build selects a physical table for schema and constructs the full
// TableMapping realizing it. Selection is deterministic: the catalog is
// scanned in order and the first structurally compatible physical table
// wins, so the same schema always resolves to the same physical table for
// the lifetime of a given catalog (spec §8 P4).
func (f *Factory) Build(schema VirtualTableSchema) (*TableMapping, error) {
	phys, assigned, err := f.selectPhysical(schema)
	if err != nil {
		return nil, err
	}

	tm := &TableMapping{
		Virtual:  schema,
		Physical: *phys,
		indexes:  make(map[string]IndexMapping, len(schema.Indexes)),
	}

	tm.primary = IndexMapping{
		VirtualName:  "",
		PhysicalName: "",
		Hash:         keyFieldMapping(schema.Name, schema.Key.Hash, phys.Key.Hash, fieldmap.Table),
	}
	if schema.Key.Range != nil {
		rm := keyFieldMapping(schema.Name, *schema.Key.Range, *phys.Key.Range, fieldmap.Table)
		tm.primary.Range = &rm
	}

	for i, vi := range schema.Indexes {
		pi := assigned[i]
		im := IndexMapping{
			VirtualName:  vi.VirtualName,
			PhysicalName: pi.Name,
			Hash:         keyFieldMapping(vi.VirtualName, vi.Key.Hash, pi.Key.Hash, fieldmap.SecondaryIndex),
		}
		if vi.Key.Range != nil {
			rm := keyFieldMapping(vi.VirtualName, *vi.Key.Range, *pi.Key.Range, fieldmap.SecondaryIndex)
			im.Range = &rm
		}
		im.Hash.PhysicalIndexName = pi.Name
		if im.Range != nil {
			im.Range.PhysicalIndexName = pi.Name
		}
		tm.indexes[vi.VirtualName] = im
	}

	return tm, nil
}

func keyFieldMapping(virtualIndexName string, src, dst KeyAttr, it fieldmap.IndexType) fieldmap.Mapping {
	return fieldmap.Mapping{
		Source:           fieldmap.ScalarField{Name: src.Name, Kind: src.Kind},
		Target:           fieldmap.ScalarField{Name: dst.Name, Kind: dst.Kind},
		VirtualIndexName: virtualIndexName,
		IndexType:        it,
		ContextAware:     true,
	}
}

// selectPhysical finds the first physical table, in catalog order, that can
// carry schema in full: a matching table-level signature (hash/range kind,
// enough indexes) is only a candidate, since its indexes might not be
// shape-compatible with schema's. Each candidate's indexes are speculatively
// matched in full before falling back to the next one, so a later catalog
// entry can still satisfy a schema an earlier, superficially-compatible
// entry cannot.
func (f *Factory) selectPhysical(schema VirtualTableSchema) (*PhysicalTable, []PhysicalIndex, error) {
	sig := signatureOf(schema)
	for i := range f.physicals {
		p := &f.physicals[i]
		if !compatible(sig, *p) {
			continue
		}
		assigned, ok := matchAllIndexes(schema.Indexes, p.Indexes)
		if !ok {
			continue
		}
		return p, assigned, nil
	}
	return nil, nil, apperr.New(apperr.NoPhysicalTable, "no physical table matches schema of virtual table %q", schema.Name)
}

// matchAllIndexes tries to assign every virtual index a distinct compatible
// physical index on the same candidate table, returning the assignment in
// the same order as virtual, or false if any virtual index has none left.
func matchAllIndexes(virtual []SecondaryIndex, phys []PhysicalIndex) ([]PhysicalIndex, bool) {
	used := make([]bool, len(phys))
	assigned := make([]PhysicalIndex, len(virtual))
	for i, vi := range virtual {
		pi, pidx, ok := matchIndex(vi, phys, used)
		if !ok {
			return nil, false
		}
		used[pidx] = true
		assigned[i] = pi
	}
	return assigned, true
}

type schemaSignature struct {
	hashKind   avattr.Kind
	hasRange   bool
	rangeKind  avattr.Kind
	indexCount int
}

func signatureOf(schema VirtualTableSchema) schemaSignature {
	sig := schemaSignature{hashKind: schema.Key.Hash.Kind, indexCount: len(schema.Indexes)}
	if schema.Key.Range != nil {
		sig.hasRange = true
		sig.rangeKind = schema.Key.Range.Kind
	}
	return sig
}

// hashCompatible reports whether a virtual attribute of kind "virtual" can
// be carried by a physical attribute of kind "physical". A physical S
// attribute can carry a virtual S or N value (N is string-coerced to its
// canonical decimal form); a physical B attribute can only carry a virtual B
// value, since DynamoDB gives no canonical byte encoding for S or N.
func hashCompatible(virtual, physical avattr.Kind) bool {
	switch physical {
	case avattr.KindS:
		return virtual == avattr.KindS || virtual == avattr.KindN
	case avattr.KindB:
		return virtual == avattr.KindB
	default:
		return false
	}
}

func compatible(sig schemaSignature, phys PhysicalTable) bool {
	if !hashCompatible(sig.hashKind, phys.Key.Hash.Kind) {
		return false
	}
	physHasRange := phys.Key.Range != nil
	if sig.hasRange != physHasRange {
		return false
	}
	if sig.hasRange && !hashCompatible(sig.rangeKind, phys.Key.Range.Kind) {
		return false
	}
	if len(phys.Indexes) < sig.indexCount {
		return false
	}
	return true
}

func keyCompatible(v, p PrimaryKey) bool {
	if !hashCompatible(v.Hash.Kind, p.Hash.Kind) {
		return false
	}
	if (v.Range != nil) != (p.Range != nil) {
		return false
	}
	if v.Range != nil && !hashCompatible(v.Range.Kind, p.Range.Kind) {
		return false
	}
	return true
}

func projectionSatisfies(physical, virtual Projection) bool {
	if physical.Type == ddbtypes.ProjectionTypeAll {
		return true
	}
	return physical.Type == virtual.Type
}

func matchIndex(vi SecondaryIndex, phys []PhysicalIndex, used []bool) (PhysicalIndex, int, bool) {
	for i, pi := range phys {
		if used[i] {
			continue
		}
		if !keyCompatible(vi.Key, pi.Key) {
			continue
		}
		if !projectionSatisfies(pi.Projection, vi.Projection) {
			continue
		}
		return pi, i, true
	}
	return PhysicalIndex{}, -1, false
}
