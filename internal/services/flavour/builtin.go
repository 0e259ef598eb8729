package flavour

import "github.com/freva-org/freva-rest/internal/models"

// Built-in vocabularies. Each mapping is an injective partial function from
// canonical field names to the vocabulary's own names; canonical fields left
// out pass through unchanged in both directions.
var builtins = map[string]*models.Flavour{
	"freva": {
		Name:    "freva",
		Owner:   models.GlobalOwner,
		Mapping: map[string]string{},
	},
	"cmip5": {
		Name:  "cmip5",
		Owner: models.GlobalOwner,
		Mapping: map[string]string{
			"cmor_table": "mip_table",
		},
	},
	"cmip6": {
		Name:  "cmip6",
		Owner: models.GlobalOwner,
		Mapping: map[string]string{
			"variable":       "variable_id",
			"model":          "source_id",
			"institute":      "institution_id",
			"experiment":     "experiment_id",
			"ensemble":       "member_id",
			"time_frequency": "frequency",
			"cmor_table":     "table_id",
		},
	},
	"cordex": {
		Name:  "cordex",
		Owner: models.GlobalOwner,
		Mapping: map[string]string{
			"driving_model": "driving_model_id",
			"rcm_name":      "model_id",
			"rcm_version":   "rcm_version_id",
			"ensemble":      "driving_model_ensemble_member",
		},
	},
	"nextgems": {
		Name:  "nextgems",
		Owner: models.GlobalOwner,
		Mapping: map[string]string{
			"variable":       "variable_id",
			"model":          "source_id",
			"institute":      "institution_id",
			"experiment":     "experiment_id",
			"ensemble":       "member_id",
			"time_frequency": "frequency",
		},
	},
	"user": {
		Name:  "user",
		Owner: models.GlobalOwner,
		Mapping: map[string]string{
			"dataset": "dataset_name",
		},
	},
}

// BuiltinNames lists the immutable flavour names in a stable order.
var BuiltinNames = []string{"cmip5", "cmip6", "cordex", "freva", "nextgems", "user"}

// IsBuiltin reports whether name refers to an immutable flavour.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}
