// Package streamarn builds and parses the composite stream ARN the façade
// hands back to callers in place of the physical table's own stream ARN:
// "<physical-arn>::<tenant>::<virtualTableName>". A consumer demultiplexing
// stream events needs the reverse operation, which the engine's forward
// rewrite alone doesn't provide.
package streamarn

import (
	"strings"

	"tablemux/internal/apperr"
	"tablemux/internal/tenant"
)

const sep = "::"

// Build composes the composite ARN callers see for a virtual table's
// stream.
func Build(physicalArn string, t tenant.ID, virtualTableName string) string {
	return physicalArn + sep + string(t) + sep + virtualTableName
}

// Parse reverses Build, splitting the composite ARN back into its physical
// ARN, tenant, and virtual table name parts.
func Parse(composite string) (physicalArn string, t tenant.ID, virtualTableName string, err error) {
	parts := strings.Split(composite, sep)
	if len(parts) != 3 {
		return "", "", "", apperr.New(apperr.Corrupt, "malformed composite stream arn %q", composite)
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", apperr.New(apperr.Corrupt, "malformed composite stream arn %q", composite)
	}
	return parts[0], tenant.ID(parts[1]), parts[2], nil
}
