package reqmap

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tablemux/internal/apperr"
	"tablemux/internal/fieldmap"
	"tablemux/internal/tablemap"
)

// ConditionMapper rewrites condition/update/filter/key-condition expressions
// (and their legacy Expected/Condition equivalents) so that references to a
// table or index's key attributes use the physical attribute name and a
// tenant-encoded value, while every other attribute reference is left
// exactly as the caller wrote it.
type ConditionMapper struct {
	fields *fieldmap.Mapper
}

// NewConditionMapper builds a ConditionMapper.
func NewConditionMapper(fields *fieldmap.Mapper) *ConditionMapper {
	return &ConditionMapper{fields: fields}
}

var (
	// keyCondTokenRe matches "<name-or-#alias> <op> :<placeholder>" for the
	// comparison operators DynamoDB's key-condition grammar allows.
	keyCondTokenRe = regexp.MustCompile(`(#?[A-Za-z_][A-Za-z0-9_]*)\s*(=|<=|>=|<|>)\s*(:[A-Za-z0-9_]+)`)
	beginsWithRe   = regexp.MustCompile(`begins_with\s*\(\s*(#?[A-Za-z_][A-Za-z0-9_]*)\s*,\s*(:[A-Za-z0-9_]+)\s*\)`)
	betweenRe      = regexp.MustCompile(`(#?[A-Za-z_][A-Za-z0-9_]*)\s+BETWEEN\s+(:[A-Za-z0-9_]+)\s+AND\s+(:[A-Za-z0-9_]+)`)
)

func wordBoundaryRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
}

func nextAlias(names map[string]string, base string) string {
	candidate := "#tm_" + base
	suffix := 0
	for {
		if _, taken := names[candidate]; !taken {
			return candidate
		}
		suffix++
		candidate = fmt.Sprintf("#tm_%s_%d", base, suffix)
	}
}

// resolveRef resolves a token that is either a bare attribute name or a
// "#alias" placeholder into the attribute name it refers to.
func resolveRef(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
		return token
	}
	return token
}

// rewriteNameRefs rewrites every occurrence of a mapped attribute's name (or
// the alias pointing at it) within expr to reference the physical name,
// introducing a fresh alias when the caller used the bare name directly.
// Returns the rewritten expression and the updated names map.
func rewriteNameRefs(expr string, names map[string]string, mapped map[string]fieldmap.Mapping) (string, map[string]string) {
	if expr == "" || len(mapped) == 0 {
		return expr, names
	}
	out := names

	for attr, fm := range mapped {
		aliasUsed := ""
		for alias, n := range out {
			if n == attr {
				aliasUsed = alias
				break
			}
		}
		if aliasUsed != "" {
			if strings.Contains(expr, aliasUsed) {
				out[aliasUsed] = fm.Target.Name
			}
			continue
		}
		if !wordBoundaryRe(attr).MatchString(expr) {
			continue
		}
		alias := nextAlias(out, attr)
		out[alias] = fm.Target.Name
		expr = wordBoundaryRe(attr).ReplaceAllString(expr, alias)
	}
	return expr, out
}

// rewriteKeyConditionValues scans expr for the narrow key-condition grammar
// (=, <, <=, >, >=, BETWEEN, begins_with) and, for every comparison whose
// left-hand attribute is a mapped key attribute, tenant-encodes the bound
// value in values.
func (c *ConditionMapper) rewriteKeyConditionValues(ctx context.Context, expr string, names map[string]string, values map[string]ddbtypes.AttributeValue, mapped map[string]fieldmap.Mapping) error {
	if expr == "" || len(mapped) == 0 || values == nil {
		return nil
	}

	apply := func(ref, placeholder string) error {
		attr := resolveRef(ref, names)
		// names has already been rewritten to physical names by this point,
		// so look the mapping up by its physical target name.
		var fm fieldmap.Mapping
		var ok bool
		for _, m := range mapped {
			if m.Target.Name == attr {
				fm, ok = m
				break
			}
		}
		if !ok {
			return nil
		}
		v, present := values[placeholder]
		if !present {
			return nil
		}
		encoded, err := c.fields.Apply(ctx, fm, v)
		if err != nil {
			return err
		}
		values[placeholder] = encoded
		return nil
	}

	for _, m := range keyCondTokenRe.FindAllStringSubmatch(expr, -1) {
		if err := apply(m[1], m[3]); err != nil {
			return err
		}
	}
	for _, m := range beginsWithRe.FindAllStringSubmatch(expr, -1) {
		if err := apply(m[1], m[2]); err != nil {
			return err
		}
	}
	for _, m := range betweenRe.FindAllStringSubmatch(expr, -1) {
		if err := apply(m[1], m[2]); err != nil {
			return err
		}
		if err := apply(m[1], m[3]); err != nil {
			return err
		}
	}
	return nil
}

// mappedByVirtualName returns the index's key field mappings keyed by their
// virtual (caller-facing) attribute name.
func mappedByVirtualName(idx tablemap.IndexMapping) map[string]fieldmap.Mapping {
	m := map[string]fieldmap.Mapping{idx.Hash.Source.Name: idx.Hash}
	if idx.Range != nil {
		m[idx.Range.Source.Name] = *idx.Range
	}
	return m
}

// exprReferencesAttr reports whether expr names attr directly or through a
// "#alias" the caller already pointed at it in names.
func exprReferencesAttr(expr string, names map[string]string, attr string) bool {
	if expr == "" {
		return false
	}
	if wordBoundaryRe(attr).MatchString(expr) {
		return true
	}
	for alias, n := range names {
		if n == attr && strings.Contains(expr, alias) {
			return true
		}
	}
	return false
}

// Apply rewrites w's primary expression, filter expression, and legacy
// condition map against idx's key attributes.
func (c *ConditionMapper) Apply(ctx context.Context, idx tablemap.IndexMapping, w RequestWrapper) error {
	mapped := mappedByVirtualName(idx)

	names := w.ExpressionAttributeNames()
	if names == nil {
		names = map[string]string{}
	}
	values := w.ExpressionAttributeValues()

	primaryExpr, primaryOK, err := w.PrimaryExpression()
	if err != nil {
		return err
	}

	filterExpr, filterOK, err := w.FilterExpression()
	if err != nil {
		if !apperr.Is(err, apperr.Unsupported) {
			return err
		}
		filterOK = false
	}

	lc, lcOK, err := w.LegacyCondition()
	if err != nil {
		return err
	}

	// A key attribute can't be targeted by both the legacy condition map and
	// an expression at once — there would be no single well-defined rewrite
	// to apply, since the two forms carry independent comparison operators.
	if lcOK {
		for attr := range mapped {
			if _, present := lc[attr]; !present {
				continue
			}
			if (primaryOK && exprReferencesAttr(primaryExpr, names, attr)) ||
				(filterOK && exprReferencesAttr(filterExpr, names, attr)) {
				return apperr.New(apperr.InvalidArgument, "attribute %q is targeted by both a legacy condition and an expression", attr)
			}
		}
	}

	if primaryOK {
		rewritten, newNames := rewriteNameRefs(primaryExpr, names, mapped)
		names = newNames
		if err := c.rewriteKeyConditionValues(ctx, rewritten, names, values, mapped); err != nil {
			return err
		}
		if err := w.SetPrimaryExpression(rewritten); err != nil {
			return err
		}
	}

	if filterOK {
		rewritten, newNames := rewriteNameRefs(filterExpr, names, mapped)
		names = newNames
		if err := c.rewriteKeyConditionValues(ctx, rewritten, names, values, mapped); err != nil {
			return err
		}
		if err := w.SetFilterExpression(rewritten); err != nil {
			return err
		}
	}

	w.SetExpressionAttributeNames(names)
	w.SetExpressionAttributeValues(values)

	if lcOK {
		for attr, fm := range mapped {
			cond, present := lc[attr]
			if !present {
				continue
			}
			rewrittenList := make([]ddbtypes.AttributeValue, len(cond.AttributeValueList))
			for i, v := range cond.AttributeValueList {
				encoded, err := c.fields.Apply(ctx, fm, v)
				if err != nil {
					return err
				}
				rewrittenList[i] = encoded
			}
			delete(lc, attr)
			lc[fm.Target.Name] = LegacyCondition{ComparisonOperator: cond.ComparisonOperator, AttributeValueList: rewrittenList, Exists: cond.Exists}
		}
		if err := w.SetLegacyCondition(lc); err != nil {
			return err
		}
	}

	return nil
}
