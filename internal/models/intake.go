package models

// Intake-ESM catalogue document, esmcat version 0.1.0.

const EsmcatVersion = "0.1.0"

// IntakeGroupByAttrs are the canonical fields an intake catalogue groups on;
// files within a group are concatenated on the time dimension.
var IntakeGroupByAttrs = []string{
	"project",
	"product",
	"institute",
	"model",
	"experiment",
	"time_frequency",
	"realm",
	"variable",
	"ensemble",
	"cmor_table",
	"fs_type",
	"grid_label",
}

type IntakeAttribute struct {
	ColumnName string `json:"column_name"`
	Vocabulary string `json:"vocabulary"`
}

type IntakeAssets struct {
	ColumnName       string `json:"column_name"`
	FormatColumnName string `json:"format_column_name"`
}

type IntakeAggregation struct {
	Type          string                 `json:"type"`
	AttributeName string                 `json:"attribute_name"`
	Options       map[string]interface{} `json:"options,omitempty"`
}

type IntakeAggregationControl struct {
	VariableColumnName string              `json:"variable_column_name"`
	GroupbyAttrs       []string            `json:"groupby_attrs"`
	Aggregations       []IntakeAggregation `json:"aggregations"`
}

// IntakeCatalogue is the self-contained catalogue JSON returned by the
// intake-catalogue endpoint.
type IntakeCatalogue struct {
	EsmcatVersion      string                   `json:"esmcat_version"`
	ID                 string                   `json:"id"`
	Description        string                   `json:"description"`
	Title              string                   `json:"title"`
	LastUpdated        string                   `json:"last_updated"`
	Attributes         []IntakeAttribute        `json:"attributes"`
	Assets             IntakeAssets             `json:"assets"`
	AggregationControl IntakeAggregationControl `json:"aggregation_control"`
	CatalogDict        []map[string]interface{} `json:"catalog_dict"`
}
