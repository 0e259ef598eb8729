package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/models"
)

// solrSpecial are the query-syntax characters escaped in bare values.
// '*' is deliberately absent: leading/trailing stars are the wildcard syntax.
const solrSpecial = `+-&|!(){}[]^"~?:\/ `

// escapeValue escapes Solr query syntax inside a single term while keeping
// '*' wildcards intact.
func escapeValue(v string) string {
	var b strings.Builder
	b.Grow(len(v) + 4)
	for _, r := range v {
		if strings.ContainsRune(solrSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// valueClause renders one facet value according to the search-time syntax:
// bare string, '*' wildcards, /regex/, or {a,b} disjunction. Matching is
// case-insensitive, which the schema guarantees via lowercased fields, so
// values are lowered here.
func valueClause(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", apierrors.InvalidInput("empty facet value")
	}
	if strings.HasPrefix(v, "/") && strings.HasSuffix(v, "/") && len(v) > 1 {
		// Regular expression: passed through untouched.
		return v, nil
	}
	v = strings.ToLower(v)
	if strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
		inner := v[1 : len(v)-1]
		parts := strings.Split(inner, ",")
		clauses := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			clauses = append(clauses, escapeValue(p))
		}
		if len(clauses) == 0 {
			return "", apierrors.InvalidInput("empty disjunction %q", raw)
		}
		return "(" + strings.Join(clauses, " OR ") + ")", nil
	}
	return escapeValue(v), nil
}

// facetFilters renders the canonicalised facet map as Solr filter queries.
// Repeated values of one key are OR-ed; distinct keys and every negation are
// AND-ed (one fq each). The version facet is only legal on the multi-version
// core.
func facetFilters(facets map[string][]string, multiVersion bool) ([]string, error) {
	keys := make([]string, 0, len(facets))
	for k := range facets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var filters []string
	for _, k := range keys {
		field, negated := strings.CutSuffix(k, "_not_")
		if !models.IsCanonicalField(field) {
			return nil, apierrors.InvalidInput("invalid facet %q", k)
		}
		if field == "version" && !multiVersion {
			return nil, apierrors.InvalidInput("the version facet requires multi-version mode")
		}
		if field == "time" || field == "bbox" {
			return nil, apierrors.InvalidInput("facet %q must use its dedicated parameter", field)
		}

		if negated {
			// Repeated negations compose conjunctively: one exclusion each.
			for _, v := range facets[k] {
				clause, err := valueClause(v)
				if err != nil {
					return nil, err
				}
				filters = append(filters, fmt.Sprintf("-%s:%s", field, clause))
			}
			continue
		}

		clauses := make([]string, 0, len(facets[k]))
		for _, v := range facets[k] {
			clause, err := valueClause(v)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
		if len(clauses) == 1 {
			filters = append(filters, fmt.Sprintf("%s:%s", field, clauses[0]))
		} else if len(clauses) > 1 {
			filters = append(filters, fmt.Sprintf("%s:(%s)", field, strings.Join(clauses, " OR ")))
		}
	}
	return filters, nil
}
