package models

import "time"

// Zarr job states as written to the cache by this service and the data-loader
// worker.
const (
	ZarrStatusQueued  = 1
	ZarrStatusRunning = 2
	ZarrStatusReady   = 3
	ZarrStatusFailed  = 4
)

// ZarrOptions controls how the data-loader worker opens and combines the
// requested paths. The zero value requests per-path conversion.
type ZarrOptions struct {
	Aggregate  string `json:"aggregate,omitempty" validate:"omitempty,oneof=auto merge concat"`
	Join       string `json:"join,omitempty" validate:"omitempty,oneof=outer inner left right exact"`
	Compat     string `json:"compat,omitempty" validate:"omitempty,oneof=equals no_conflicts override"`
	DataVars   string `json:"data_vars,omitempty" validate:"omitempty,oneof=minimal different all"`
	Coords     string `json:"coords,omitempty" validate:"omitempty,oneof=minimal different all"`
	Dim        string `json:"dim,omitempty"`
	GroupBy    string `json:"group_by,omitempty"`
	Public     bool   `json:"public,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" validate:"omitempty,min=1"`
}

// Aggregated reports whether the request collapses all paths into one store.
func (o ZarrOptions) Aggregated() bool {
	return o.Aggregate != ""
}

// ZarrJob is the status record stored under zarr:<token>:status. The worker
// mutates Status and Reason; everything else is written once at convert time.
type ZarrJob struct {
	Token     string      `json:"token"`
	Status    int         `json:"status"`
	Reason    string      `json:"reason"`
	Owner     string      `json:"owner"`
	CreatedAt time.Time   `json:"created_at"`
	Expiry    time.Time   `json:"expiry"`
	Paths     []string    `json:"paths"`
	Options   ZarrOptions `json:"options"`
	Public    bool        `json:"public"`
}

// Expired reports whether the job's TTL has lapsed at the given instant.
func (j *ZarrJob) Expired(now time.Time) bool {
	return now.After(j.Expiry)
}

// ConvertRequest is the payload of POST /data-portal/zarr/convert.
type ConvertRequest struct {
	Path []string    `json:"path" validate:"required,min=1,dive,required"`
	ZarrOptions
}

// ConvertResponse lists one streaming URL per requested store.
type ConvertResponse struct {
	URLs []string `json:"urls"`
}

// ZarrStatusResponse is returned by the status poll endpoint.
type ZarrStatusResponse struct {
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

// ShareRequest is the payload of POST /data-portal/zarr/share-zarr.
type ShareRequest struct {
	Path       string `json:"path" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" validate:"omitempty,min=1"`
}

// ShareGrant describes an HMAC-signed, expiring URL permitting
// unauthenticated GETs against one zarr token.
type ShareGrant struct {
	URL     string `json:"url"`
	Sig     string `json:"sig"`
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
	Method  string `json:"method"`
}

// WorkerMessage is the payload published on the worker channel.
type WorkerMessage struct {
	Token   string      `json:"token"`
	Paths   []string    `json:"paths"`
	Options ZarrOptions `json:"options"`
}
