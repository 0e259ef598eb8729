// Package models defines the data model shared by the databrowser, zarr
// streaming and auth components: canonical search documents, flavours,
// conversion jobs, share grants and usage statistics.
package models

import "time"

// CanonicalFields is the ordered set of storage-level facet names. Every
// indexed document exposes exactly these fields (absent = null) and every
// flavour mapping is a subset injection from this set.
var CanonicalFields = []string{
	"project",
	"product",
	"institute",
	"model",
	"experiment",
	"ensemble",
	"realm",
	"variable",
	"time_frequency",
	"time_aggregation",
	"cmor_table",
	"grid_label",
	"grid_id",
	"level_type",
	"format",
	"dataset",
	"driving_model",
	"rcm_name",
	"rcm_version",
	"fs_type",
	"file",
	"uri",
	"time",
	"bbox",
	"version",
	"user",
}

// PrimaryFacets are the canonical fields shown by metadata-search unless the
// caller asks for the extended set.
var PrimaryFacets = []string{
	"project",
	"product",
	"institute",
	"model",
	"experiment",
	"ensemble",
	"realm",
	"variable",
	"time_frequency",
	"time_aggregation",
	"cmor_table",
	"fs_type",
	"grid_label",
	"dataset",
	"format",
	"grid_id",
	"level_type",
	"user",
}

// UniqKeys are the fields a data-search may stream.
var UniqKeys = []string{"file", "uri"}

// IsCanonicalField reports whether name is a storage-level facet.
func IsCanonicalField(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// SearchDocument is the unit indexed by the search backend. Facet fields are
// multi-valued; fields the index never saw are simply absent.
type SearchDocument map[string]interface{}

// ID returns the document's stable identifier, or 0 when absent.
func (d SearchDocument) ID() int64 {
	switch v := d["id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// FirstString returns the first value of a (possibly multi-valued) field.
func (d SearchDocument) FirstString(field string) string {
	switch v := d[field].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Strings returns all values of a field as a string slice.
func (d SearchDocument) Strings(field string) []string {
	switch v := d[field].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// UserDataEntry is a user-supplied search document prior to ingestion. File,
// variable, time and time_frequency are mandatory; the remaining facets are
// free-form and merged with the request-level defaults.
type UserDataEntry struct {
	File          string            `json:"file" validate:"required"`
	Variable      string            `json:"variable" validate:"required"`
	Time          string            `json:"time" validate:"required"`
	TimeFrequency string            `json:"time_frequency" validate:"required"`
	Facets        map[string]string `json:"facets,omitempty"`
}

// IngestResult reports the outcome of a user-data ingestion.
type IngestResult struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
}

// DeleteResult reports the outcome of a user-data purge.
type DeleteResult struct {
	Deleted int `json:"deleted"`
}

// StatsRecord is the append-only usage record written to the document store.
// It is never read on the hot path.
type StatsRecord struct {
	Timestamp   time.Time           `bson:"timestamp" json:"timestamp"`
	Route       string              `bson:"route" json:"route"`
	Principal   string              `bson:"principal,omitempty" json:"principal,omitempty"`
	Flavour     string              `bson:"flavour" json:"flavour"`
	Facets      map[string][]string `bson:"facets" json:"facets"`
	ResultCount int64               `bson:"result_count" json:"result_count"`
	DurationMS  int64               `bson:"duration_ms" json:"duration_ms"`
}
