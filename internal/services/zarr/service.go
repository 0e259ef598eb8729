// Package zarr brokers conversion requests between HTTP clients and the
// data-loader worker: deterministic job tokens, status records in the cache,
// chunk retrieval, and HMAC-signed share URLs.
package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

// workerChannel is the broker channel the data-loader worker subscribes to.
const workerChannel = "data-portal"

func statusKey(token string) string { return "zarr:" + token + ":status" }
func blobKey(token, key string) string {
	return "zarr:" + token + ":blob:" + key
}

// Service implements interfaces.ZarrService.
type Service struct {
	cache      interfaces.Cache
	logger     arbor.ILogger
	baseURL    string // external base URL including the proxy prefix
	defaultTTL time.Duration
	signingKey []byte
	now        func() time.Time
}

// NewService creates the zarr broker.
func NewService(config *common.Config, cacheSvc interfaces.Cache, logger arbor.ILogger) *Service {
	key := config.Cache.SigningKey
	if key == "" {
		// An empty key would make every signature forgeable; derive one from
		// the client secret so single-node setups work out of the box.
		key = config.OIDC.ClientSecret + "|freva-rest-share"
	}
	return &Service{
		cache:      cacheSvc,
		logger:     logger,
		baseURL:    config.ProxyURL(),
		defaultTTL: config.CacheTTL(),
		signingKey: []byte(key),
		now:        time.Now,
	}
}

// Convert registers one conversion job per requested store and publishes the
// requests to the worker. Tokens are deterministic, so repeated identical
// calls return the same URLs without duplicating jobs.
func (s *Service) Convert(ctx context.Context, principal *models.Principal, req *models.ConvertRequest) (*models.ConvertResponse, error) {
	if principal == nil {
		return nil, apierrors.Unauthenticated("zarr conversion requires authentication")
	}
	if len(req.Path) == 0 {
		return nil, apierrors.InvalidInput("at least one path is required")
	}

	ttl := s.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	// Aggregated requests collapse all paths into a single store; otherwise
	// each path is an independent job.
	var jobs [][]string
	if req.Aggregated() {
		jobs = [][]string{req.Path}
	} else {
		for _, p := range req.Path {
			jobs = append(jobs, []string{p})
		}
	}

	urls := make([]string, 0, len(jobs))
	for _, paths := range jobs {
		token := DeriveToken(principal.Subject, paths, req.ZarrOptions)
		if err := s.enqueue(ctx, principal, token, paths, req.ZarrOptions, ttl); err != nil {
			return nil, err
		}
		urls = append(urls, fmt.Sprintf("%s/data-portal/zarr/%s.zarr", s.baseURL, token))
	}
	return &models.ConvertResponse{URLs: urls}, nil
}

func (s *Service) enqueue(ctx context.Context, principal *models.Principal, token string, paths []string, options models.ZarrOptions, ttl time.Duration) error {
	now := s.now().UTC()
	job := models.ZarrJob{
		Token:     token,
		Status:    models.ZarrStatusQueued,
		Reason:    "submitted",
		Owner:     principal.Username,
		CreatedAt: now,
		Expiry:    now.Add(ttl),
		Paths:     paths,
		Options:   options,
		Public:    options.Public,
	}
	payload, err := json.Marshal(&job)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "could not encode job", err)
	}

	created, err := s.cache.SetNX(ctx, statusKey(token), payload, ttl)
	if err != nil {
		return err
	}
	if !created {
		// Idempotent convert: the job record is written exactly once. A job
		// the worker already failed is the exception and gets requeued.
		return s.resubmitIfFailed(ctx, token, paths, options, ttl)
	}

	message, _ := json.Marshal(models.WorkerMessage{Token: token, Paths: paths, Options: options})
	if err := s.cache.Publish(ctx, workerChannel, message); err != nil {
		// Roll the half-registered job back so a later retry republishes.
		if delErr := s.cache.Delete(ctx, statusKey(token)); delErr != nil {
			s.logger.Warn().Err(delErr).Str("token", token).Msg("Could not roll back job record")
		}
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "broker unavailable", err)
	}

	s.logger.Info().
		Str("token", token).
		Str("owner", principal.Username).
		Int("paths", len(paths)).
		Msg("Conversion queued")
	return nil
}

// resubmitIfFailed requeues a job the worker reported as failed. The status
// flip is a compare-and-swap so a concurrent worker update wins cleanly.
func (s *Service) resubmitIfFailed(ctx context.Context, token string, paths []string, options models.ZarrOptions, ttl time.Duration) error {
	job, err := s.Job(ctx, token)
	if err != nil || job.Status != models.ZarrStatusFailed {
		return nil
	}
	err = s.cache.CompareAndSwap(ctx, statusKey(token), func(old []byte) ([]byte, error) {
		var current models.ZarrJob
		if old == nil || json.Unmarshal(old, &current) != nil {
			return old, fmt.Errorf("job record vanished")
		}
		if current.Status != models.ZarrStatusFailed {
			return old, nil
		}
		current.Status = models.ZarrStatusQueued
		current.Reason = "resubmitted"
		current.Expiry = s.now().UTC().Add(ttl)
		return json.Marshal(&current)
	}, ttl)
	if err != nil {
		s.logger.Warn().Err(err).Str("token", token).Msg("Could not requeue failed job")
		return nil
	}
	message, _ := json.Marshal(models.WorkerMessage{Token: token, Paths: paths, Options: options})
	if err := s.cache.Publish(ctx, workerChannel, message); err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "broker unavailable", err)
	}
	s.logger.Info().Str("token", token).Msg("Failed conversion requeued")
	return nil
}

// Job fetches the status record for a token.
func (s *Service) Job(ctx context.Context, token string) (*models.ZarrJob, error) {
	raw, err := s.cache.Get(ctx, statusKey(token))
	if err != nil {
		if apierrors.IsKind(err, apierrors.KindNotFound) {
			return nil, apierrors.NotFound("unknown zarr token %q", token)
		}
		return nil, err
	}
	var job models.ZarrJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "corrupt job record", err)
	}
	return &job, nil
}

// Status reports the worker-visible job state.
func (s *Service) Status(ctx context.Context, token string) (*models.ZarrStatusResponse, error) {
	job, err := s.Job(ctx, token)
	if err != nil {
		return nil, err
	}
	return &models.ZarrStatusResponse{Status: job.Status, Reason: job.Reason}, nil
}

// isMetadataKey reports whether a store key is served as JSON rather than raw bytes.
func isMetadataKey(key string) bool {
	base := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		base = key[idx+1:]
	}
	switch base {
	case ".zmetadata", ".zgroup", ".zattrs", ".zarray":
		return true
	}
	return false
}

// ReadKey fetches one store key (metadata document or chunk) for a token and
// returns the bytes plus content type. The store layout is one level of
// variable groups: array metadata must not appear at the root.
func (s *Service) ReadKey(ctx context.Context, token, key string) ([]byte, string, error) {
	if key == "" {
		key = ".zmetadata"
	}
	key = strings.Trim(key, "/")
	if key == ".zarray" {
		return nil, "", apierrors.InvalidInput("array metadata is not valid at the store root")
	}
	if strings.Contains(key, "..") {
		return nil, "", apierrors.InvalidInput("invalid store key %q", key)
	}

	raw, err := s.cache.Get(ctx, blobKey(token, key))
	if err != nil {
		if apierrors.IsKind(err, apierrors.KindNotFound) {
			return nil, "", apierrors.NotFound("key %q not found for token %q", key, token)
		}
		return nil, "", err
	}
	if isMetadataKey(key) {
		return raw, "application/json", nil
	}
	return raw, "application/octet-stream", nil
}

// SweepExpired removes status records (and their blobs) whose logical expiry
// has passed. Key TTLs already cover the common case; the sweep catches jobs
// whose TTL was extended by later writes.
func (s *Service) SweepExpired(ctx context.Context) error {
	keys, err := s.cache.Keys(ctx, "zarr:*:status")
	if err != nil {
		return err
	}
	now := s.now()
	for _, key := range keys {
		raw, err := s.cache.Get(ctx, key)
		if err != nil {
			continue
		}
		var job models.ZarrJob
		if err := json.Unmarshal(raw, &job); err != nil || !job.Expired(now) {
			continue
		}
		blobs, err := s.cache.Keys(ctx, blobKey(job.Token, "*"))
		if err == nil {
			for _, blob := range blobs {
				_ = s.cache.Delete(ctx, blob)
			}
		}
		_ = s.cache.Delete(ctx, key)
		s.logger.Debug().Str("token", job.Token).Msg("Expired zarr job swept")
	}
	return nil
}

var previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html>
<head><title>Zarr store {{.Token}}</title></head>
<body>
<h1>Zarr store {{.Token}}</h1>
<p>Status: {{.StatusText}} ({{.Reason}})</p>
<pre id="metadata">{{.Metadata}}</pre>
</body>
</html>
`))

var statusText = map[int]string{
	models.ZarrStatusQueued:  "queued",
	models.ZarrStatusRunning: "running",
	models.ZarrStatusReady:   "ready",
	models.ZarrStatusFailed:  "failed",
}

// HTMLPreview renders a human-readable summary of the store: job state plus
// the consolidated metadata document, when the worker has written it.
func (s *Service) HTMLPreview(ctx context.Context, token string) ([]byte, error) {
	job, err := s.Job(ctx, token)
	if err != nil {
		return nil, err
	}
	metadata := "(metadata not yet available)"
	if raw, _, err := s.ReadKey(ctx, token, ".zmetadata"); err == nil {
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			metadata = pretty.String()
		} else {
			metadata = string(raw)
		}
	}

	var out bytes.Buffer
	err = previewTemplate.Execute(&out, map[string]string{
		"Token":      token,
		"StatusText": statusText[job.Status],
		"Reason":     job.Reason,
		"Metadata":   metadata,
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "could not render preview", err)
	}
	return out.Bytes(), nil
}
