package search

import (
	"context"
	"time"

	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// IntakeCatalogue synthesises a self-contained intake-ESM catalogue
// (esmcat 0.1.0) from the matching documents. Grouping is declared, not
// performed: aggregation_control instructs intake to group on the canonical
// DRS attributes and concatenate files on the time dimension.
func (s *Service) IntakeCatalogue(ctx context.Context, p interfaces.SearchParams) (*models.IntakeCatalogue, error) {
	if p.UniqKey != "file" && p.UniqKey != "uri" {
		p.UniqKey = "file"
	}
	params, err := s.buildParams(p)
	if err != nil {
		return nil, err
	}
	// The catalogue needs every facet column, not just the uniq key.
	params.Set("fl", "*")

	stream, err := newCursorStream(ctx, s.client, s.core(p.MultiVersion), params, 0, maxPageBatch, -1)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	flavour := p.Flavour
	translate := func(field string) string {
		if flavour == nil {
			return field
		}
		return flavour.TranslateOutField(field)
	}

	attributes := make([]models.IntakeAttribute, 0, len(models.CanonicalFields))
	for _, f := range models.CanonicalFields {
		switch f {
		case "file", "uri", "time", "bbox":
			continue
		}
		attributes = append(attributes, models.IntakeAttribute{ColumnName: translate(f), Vocabulary: ""})
	}

	groupBy := make([]string, 0, len(models.IntakeGroupByAttrs))
	for _, f := range models.IntakeGroupByAttrs {
		groupBy = append(groupBy, translate(f))
	}

	catalogue := &models.IntakeCatalogue{
		EsmcatVersion: models.EsmcatVersion,
		ID:            flavourName(flavour),
		Description:   "Catalogue from freva-databrowser",
		Title:         "freva-databrowser catalogue",
		LastUpdated:   time.Now().UTC().Format(time.RFC3339),
		Attributes:    attributes,
		Assets: models.IntakeAssets{
			ColumnName:       p.UniqKey,
			FormatColumnName: translate("format"),
		},
		AggregationControl: models.IntakeAggregationControl{
			VariableColumnName: translate("variable"),
			GroupbyAttrs:       groupBy,
			Aggregations: []models.IntakeAggregation{
				{Type: "union", AttributeName: translate("variable")},
				{
					Type:          "join_existing",
					AttributeName: translate("time"),
					Options:       map[string]interface{}{"dim": "time"},
				},
			},
		},
		CatalogDict: []map[string]interface{}{},
	}

	for {
		doc, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		catalogue.CatalogDict = append(catalogue.CatalogDict, flattenForCatalogue(doc, flavour, p.UniqKey))
	}
	return catalogue, nil
}

func flavourName(f *models.Flavour) string {
	if f == nil {
		return "freva"
	}
	return f.Name
}

// flattenForCatalogue collapses the multi-valued index representation into
// the single-valued rows intake expects, with field names translated into
// the flavour's vocabulary.
func flattenForCatalogue(doc models.SearchDocument, flavour *models.Flavour, uniqKey string) map[string]interface{} {
	row := make(map[string]interface{}, len(models.CanonicalFields))
	for _, f := range models.CanonicalFields {
		switch f {
		case "bbox":
			continue
		case "file", "uri":
			if f != uniqKey {
				continue
			}
		}
		name := f
		if flavour != nil {
			name = flavour.TranslateOutField(f)
		}
		if v := doc.FirstString(f); v != "" {
			row[name] = v
		} else {
			row[name] = nil
		}
	}
	return row
}
