package dispatch

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"tablemux/internal/apperr"
	"tablemux/internal/avattr"
	"tablemux/internal/reqmap"
	"tablemux/internal/streamarn"
	"tablemux/internal/tablemap"
	"tablemux/internal/tenant"
)

func attrKind(t ddbtypes.ScalarAttributeType) (avattr.Kind, error) {
	switch t {
	case ddbtypes.ScalarAttributeTypeS:
		return avattr.KindS, nil
	case ddbtypes.ScalarAttributeTypeN:
		return avattr.KindN, nil
	case ddbtypes.ScalarAttributeTypeB:
		return avattr.KindB, nil
	default:
		return "", apperr.New(apperr.InvalidArgument, "unsupported attribute type %q", t)
	}
}

func scalarType(k avattr.Kind) ddbtypes.ScalarAttributeType {
	switch k {
	case avattr.KindS:
		return ddbtypes.ScalarAttributeTypeS
	case avattr.KindN:
		return ddbtypes.ScalarAttributeTypeN
	default:
		return ddbtypes.ScalarAttributeTypeB
	}
}

func primaryKeyFromSchema(ks []ddbtypes.KeySchemaElement, kinds map[string]avattr.Kind) (tablemap.PrimaryKey, error) {
	var pk tablemap.PrimaryKey
	for _, e := range ks {
		if e.AttributeName == nil {
			return pk, apperr.New(apperr.InvalidArgument, "key schema element is missing an attribute name")
		}
		kind, ok := kinds[*e.AttributeName]
		if !ok {
			return pk, apperr.New(apperr.InvalidArgument, "key attribute %q has no attribute definition", *e.AttributeName)
		}
		switch e.KeyType {
		case ddbtypes.KeyTypeHash:
			pk.Hash = tablemap.KeyAttr{Name: *e.AttributeName, Kind: kind}
		case ddbtypes.KeyTypeRange:
			r := tablemap.KeyAttr{Name: *e.AttributeName, Kind: kind}
			pk.Range = &r
		}
	}
	if pk.Hash.Name == "" {
		return pk, apperr.New(apperr.InvalidArgument, "key schema is missing a HASH key")
	}
	return pk, nil
}

// schemaFromCreateTableInput translates the caller's DynamoDB-shaped
// CreateTableInput into the virtual table schema the table-mapping factory
// matches against the physical catalog. Local secondary indexes are not
// supported — spec §6's enumerated unsupported-option list, carried into
// this translation step.
func schemaFromCreateTableInput(in *dynamodb.CreateTableInput) (tablemap.VirtualTableSchema, error) {
	var zero tablemap.VirtualTableSchema
	if in.TableName == nil {
		return zero, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	if len(in.LocalSecondaryIndexes) > 0 {
		return zero, apperr.New(apperr.Unsupported, "local secondary indexes are not supported")
	}

	kinds := make(map[string]avattr.Kind, len(in.AttributeDefinitions))
	for _, ad := range in.AttributeDefinitions {
		if ad.AttributeName == nil {
			return zero, apperr.New(apperr.InvalidArgument, "attribute definition is missing a name")
		}
		kind, err := attrKind(ad.AttributeType)
		if err != nil {
			return zero, err
		}
		kinds[*ad.AttributeName] = kind
	}

	pk, err := primaryKeyFromSchema(in.KeySchema, kinds)
	if err != nil {
		return zero, err
	}

	var indexes []tablemap.SecondaryIndex
	for _, gsi := range in.GlobalSecondaryIndexes {
		if gsi.IndexName == nil {
			return zero, apperr.New(apperr.InvalidArgument, "global secondary index is missing a name")
		}
		ipk, err := primaryKeyFromSchema(gsi.KeySchema, kinds)
		if err != nil {
			return zero, err
		}
		var proj tablemap.Projection
		if gsi.Projection != nil {
			proj.Type = gsi.Projection.ProjectionType
			proj.NonKeyAttributes = gsi.Projection.NonKeyAttributes
		}
		indexes = append(indexes, tablemap.SecondaryIndex{VirtualName: *gsi.IndexName, Key: ipk, Projection: proj})
	}

	streamEnabled := in.StreamSpecification != nil &&
		in.StreamSpecification.StreamEnabled != nil &&
		*in.StreamSpecification.StreamEnabled

	return tablemap.VirtualTableSchema{Name: *in.TableName, Key: pk, Indexes: indexes, StreamEnabled: streamEnabled}, nil
}

// describeOutput builds the DynamoDB-shaped TableDescription a caller sees
// for their virtual table, rewriting the physical table's stream ARN (if
// any) into the composite form streamarn.Build produces.
func (g *Gateway) describeOutput(ctx context.Context, t tenant.ID, physicalTableName string, schema tablemap.VirtualTableSchema, createdAt time.Time) (*ddbtypes.TableDescription, error) {
	ks := []ddbtypes.KeySchemaElement{{AttributeName: &schema.Key.Hash.Name, KeyType: ddbtypes.KeyTypeHash}}
	ads := []ddbtypes.AttributeDefinition{{AttributeName: &schema.Key.Hash.Name, AttributeType: scalarType(schema.Key.Hash.Kind)}}
	if schema.Key.Range != nil {
		ks = append(ks, ddbtypes.KeySchemaElement{AttributeName: &schema.Key.Range.Name, KeyType: ddbtypes.KeyTypeRange})
		ads = append(ads, ddbtypes.AttributeDefinition{AttributeName: &schema.Key.Range.Name, AttributeType: scalarType(schema.Key.Range.Kind)})
	}

	var gsis []ddbtypes.GlobalSecondaryIndexDescription
	for _, idx := range schema.Indexes {
		iks := []ddbtypes.KeySchemaElement{{AttributeName: &idx.Key.Hash.Name, KeyType: ddbtypes.KeyTypeHash}}
		if idx.Key.Range != nil {
			iks = append(iks, ddbtypes.KeySchemaElement{AttributeName: &idx.Key.Range.Name, KeyType: ddbtypes.KeyTypeRange})
		}
		name := idx.VirtualName
		gsis = append(gsis, ddbtypes.GlobalSecondaryIndexDescription{
			IndexName:   &name,
			KeySchema:   iks,
			Projection:  &ddbtypes.Projection{ProjectionType: idx.Projection.Type, NonKeyAttributes: idx.Projection.NonKeyAttributes},
			IndexStatus: ddbtypes.IndexStatusActive,
		})
	}

	name := schema.Name
	createdAtCopy := createdAt
	desc := &ddbtypes.TableDescription{
		TableName:              &name,
		TableStatus:            ddbtypes.TableStatusActive,
		KeySchema:              ks,
		AttributeDefinitions:   ads,
		GlobalSecondaryIndexes: gsis,
		CreationDateTime:       &createdAtCopy,
	}

	if schema.StreamEnabled {
		physOut, err := g.backend.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &physicalTableName})
		if err != nil {
			return nil, apperr.Wrap(apperr.Backend, err, "describing physical table %q for its stream arn failed", physicalTableName)
		}
		if physOut.Table != nil && physOut.Table.LatestStreamArn != nil {
			composite := streamarn.Build(*physOut.Table.LatestStreamArn, t, schema.Name)
			desc.LatestStreamArn = &composite
			desc.StreamSpecification = &ddbtypes.StreamSpecification{StreamEnabled: boolPtr(true), StreamViewType: ddbtypes.StreamViewTypeNewAndOldImages}
		}
	}

	return desc, nil
}

func boolPtr(b bool) *bool { return &b }

// CreateTable registers a new virtual table, failing NoPhysicalTable
// up-front if no physical table in the catalog structurally matches the
// requested schema rather than deferring the failure to the first request.
func (g *Gateway) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	t, err := g.tenants.Current(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := schemaFromCreateTableInput(in)
	if err != nil {
		return nil, err
	}
	tm, err := g.factory.Build(schema)
	if err != nil {
		return nil, err
	}
	desc, err := g.descs.CreateTable(ctx, string(t), schema.Name, schema)
	if err != nil {
		return nil, err
	}
	tableDesc, err := g.describeOutput(ctx, t, tm.Physical.Name, desc.Schema, desc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &dynamodb.CreateTableOutput{TableDescription: tableDesc}, nil
}

// DescribeTable returns the caller's virtual table's description.
func (g *Gateway) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	t, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}
	desc, err := g.descs.GetTableDescription(ctx, string(t), *in.TableName)
	if err != nil {
		return nil, err
	}
	tableDesc, err := g.describeOutput(ctx, t, tm.Physical.Name, desc.Schema, desc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: tableDesc}, nil
}

// DeleteTable optionally truncates a virtual table's rows from the physical
// table, then removes its description and mapping-cache entry — in that
// order, per config.Config, so a schema never disappears while rows under
// its tenant+table prefix are still being removed. On the async path, both
// truncation and schema removal happen on the background worker, so the
// schema stays registered until the worker has finished truncating; a caller
// who re-creates the same virtual table name in the meantime gets the
// description repository's rejection of an already-existing table rather
// than a fresh table on top of rows the worker hasn't reached yet.
func (g *Gateway) DeleteTable(ctx context.Context, in *dynamodb.DeleteTableInput) (*dynamodb.DeleteTableOutput, error) {
	if in.TableName == nil {
		return nil, apperr.New(apperr.InvalidArgument, "TableName is required")
	}
	t, tm, err := g.resolve(ctx, *in.TableName)
	if err != nil {
		return nil, err
	}

	desc, err := g.descs.GetTableDescription(ctx, string(t), *in.TableName)
	if err != nil {
		return nil, err
	}

	tableDesc, err := g.describeOutput(ctx, t, tm.Physical.Name, desc.Schema, desc.CreatedAt)
	if err != nil {
		return nil, err
	}
	tableDesc.TableStatus = ddbtypes.TableStatusDeleting

	dropSchema := func(c context.Context) error {
		if _, err := g.descs.DeleteTable(c, string(t), *in.TableName); err != nil {
			return err
		}
		g.cache.Invalidate(t, *in.TableName)
		return nil
	}

	if !g.cfg.TruncateOnDeleteTable {
		if err := dropSchema(ctx); err != nil {
			return nil, err
		}
		return &dynamodb.DeleteTableOutput{TableDescription: tableDesc}, nil
	}

	truncate := func(c context.Context) error { return g.truncateVirtualTable(c, tm) }

	if g.cfg.DeleteTableAsync {
		go func() {
			if err := tenant.WithContext(context.Background(), g.tenants, t, truncate); err != nil {
				g.log.Warn("async DeleteTable truncation failed",
					zap.String("tenant", string(t)),
					zap.String("virtual_table", *in.TableName),
					zap.Error(err))
				return
			}
			if err := dropSchema(context.Background()); err != nil {
				g.log.Warn("async DeleteTable schema removal failed",
					zap.String("tenant", string(t)),
					zap.String("virtual_table", *in.TableName),
					zap.Error(err))
			}
		}()
		return &dynamodb.DeleteTableOutput{TableDescription: tableDesc}, nil
	}

	if err := tenant.WithContext(ctx, g.tenants, t, truncate); err != nil {
		return nil, err
	}
	if err := dropSchema(ctx); err != nil {
		return nil, err
	}
	return &dynamodb.DeleteTableOutput{TableDescription: tableDesc}, nil
}

// truncateVirtualTable scans the physical table restricted to this virtual
// table's tenant-scoped rows and deletes each one. It runs either inline or
// on the async worker goroutine, so it takes its own context (never the
// original request's, on the async path) and a tenant already attached.
func (g *Gateway) truncateVirtualTable(ctx context.Context, tm *tablemap.TableMapping) error {
	idx := tm.PrimaryIndexMapping()
	qsm := reqmap.NewQueryAndScanMapper(tm, g.fields, g.tenants)

	var startKey map[string]ddbtypes.AttributeValue
	for {
		physIn := &dynamodb.ScanInput{TableName: &tm.Physical.Name, ExclusiveStartKey: startKey}
		if err := qsm.ApplyScan(ctx, reqmap.ScanWrapper{In: physIn}, "", nil); err != nil {
			return err
		}
		out, err := g.backend.Scan(ctx, physIn)
		if err != nil {
			return apperr.Wrap(apperr.Backend, err, "truncation scan of physical table %q failed", tm.Physical.Name)
		}
		for _, item := range out.Items {
			key := physicalKeyOf(item, idx)
			if _, err := g.backend.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: &tm.Physical.Name, Key: key}); err != nil {
				return apperr.Wrap(apperr.Backend, err, "truncation delete against physical table %q failed", tm.Physical.Name)
			}
		}
		if out.LastEvaluatedKey == nil {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func physicalKeyOf(item map[string]ddbtypes.AttributeValue, idx tablemap.IndexMapping) map[string]ddbtypes.AttributeValue {
	out := map[string]ddbtypes.AttributeValue{idx.Hash.Target.Name: item[idx.Hash.Target.Name]}
	if idx.Range != nil {
		out[idx.Range.Target.Name] = item[idx.Range.Target.Name]
	}
	return out
}
