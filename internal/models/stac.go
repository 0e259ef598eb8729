package models

// STAC 1.1.0 payloads. Only the parts of the spec this service serves are
// modelled: landing page (core), collections and item-search.

const (
	StacVersion   = "1.1.0"
	StacLandingID = "freva"
)

// StacConformance lists the conformance classes this API advertises.
var StacConformance = []string{
	"https://api.stacspec.org/v1.0.0/core",
	"https://api.stacspec.org/v1.0.0/collections",
	"https://api.stacspec.org/v1.0.0/item-search",
}

// StacLink is a hypermedia link carried by every STAC object.
type StacLink struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// StacLanding is the API landing page.
type StacLanding struct {
	Type        string     `json:"type"`
	StacVersion string     `json:"stac_version"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ConformsTo  []string   `json:"conformsTo"`
	Links       []StacLink `json:"links"`
}

// StacExtent bounds a collection in space and time.
type StacExtent struct {
	Spatial  StacSpatialExtent  `json:"spatial"`
	Temporal StacTemporalExtent `json:"temporal"`
}

type StacSpatialExtent struct {
	Bbox [][]float64 `json:"bbox"`
}

type StacTemporalExtent struct {
	Interval [][]*string `json:"interval"`
}

// StacCollection maps one canonical project to a STAC collection.
type StacCollection struct {
	Type        string     `json:"type"`
	StacVersion string     `json:"stac_version"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	License     string     `json:"license"`
	Extent      StacExtent `json:"extent"`
	Links       []StacLink `json:"links"`
}

// StacCollectionList is the body of GET /collections.
type StacCollectionList struct {
	Collections []StacCollection `json:"collections"`
	Links       []StacLink       `json:"links"`
}

// StacAsset points at one retrievable representation of an item.
type StacAsset struct {
	Href        string   `json:"href"`
	Title       string   `json:"title,omitempty"`
	Type        string   `json:"type,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Description string   `json:"description,omitempty"`
}

// StacItem is a GeoJSON feature describing one search document.
type StacItem struct {
	Type        string                 `json:"type"`
	StacVersion string                 `json:"stac_version"`
	ID          string                 `json:"id"`
	Collection  string                 `json:"collection"`
	Geometry    map[string]interface{} `json:"geometry"`
	Bbox        []float64              `json:"bbox"`
	Properties  map[string]interface{} `json:"properties"`
	Assets      map[string]StacAsset   `json:"assets"`
	Links       []StacLink             `json:"links"`
}

// StacItemCollection is a GeoJSON feature collection page.
type StacItemCollection struct {
	Type           string     `json:"type"`
	Features       []StacItem `json:"features"`
	Links          []StacLink `json:"links"`
	NumberMatched  int64      `json:"numberMatched"`
	NumberReturned int        `json:"numberReturned"`
}

// StacSearchRequest is the body of POST /stacapi/search.
type StacSearchRequest struct {
	Collections []string               `json:"collections,omitempty"`
	IDs         []string               `json:"ids,omitempty"`
	Bbox        []float64              `json:"bbox,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	Token       string                 `json:"token,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
}

// StacQueryables is a JSON-Schema description of the filterable properties.
type StacQueryables struct {
	Schema               string                 `json:"$schema"`
	ID                   string                 `json:"$id"`
	Type                 string                 `json:"type"`
	Title                string                 `json:"title"`
	Properties           map[string]interface{} `json:"properties"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}
