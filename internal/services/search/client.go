// Package search translates canonicalised databrowser queries into Solr
// queries, enforces the time/bbox/version rules the index cannot express,
// and streams results through pull-based cursors.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
)

const (
	// requestDeadline bounds every individual backend call.
	requestDeadline = 30 * time.Second
	// retryAttempts is the number of retries after the initial call.
	retryAttempts = 3
)

// solrResponse is the subset of a Solr select response the adapter consumes.
type solrResponse struct {
	Response struct {
		NumFound int64                    `json:"numFound"`
		Docs     []map[string]interface{} `json:"docs"`
	} `json:"response"`
	FacetCounts struct {
		FacetFields map[string][]interface{} `json:"facet_fields"`
	} `json:"facet_counts"`
	NextCursorMark string `json:"nextCursorMark"`
	Error          *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error"`
}

// solrClient issues select and update calls against one Solr instance.
// Connection failures are retried with exponential backoff (100, 400,
// 1600 ms) before surfacing as BACKEND_UNAVAILABLE.
type solrClient struct {
	baseURL string
	http    *http.Client
	logger  arbor.ILogger
}

func newSolrClient(baseURL string, logger arbor.ILogger) *solrClient {
	return &solrClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestDeadline},
		logger:  logger,
	}
}

func (c *solrClient) retryPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 4
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, retryAttempts), ctx)
}

// Select runs a query against the named core.
func (c *solrClient) Select(ctx context.Context, core string, params url.Values) (*solrResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/select?%s", c.baseURL, core, params.Encode())

	var result *solrResponse
	op := func() error {
		ctx, cancel := context.WithTimeout(ctx, requestDeadline)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err // connection error: retryable
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var decoded solrResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed search backend response: %w", err))
		}
		if decoded.Error != nil {
			if decoded.Error.Code >= 500 {
				return fmt.Errorf("search backend error %d: %s", decoded.Error.Code, decoded.Error.Msg)
			}
			return backoff.Permanent(apierrors.InvalidInput("search backend rejected query: %s", decoded.Error.Msg))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("search backend status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(apierrors.InvalidInput("search backend rejected query (status %d)", resp.StatusCode))
		}
		result = &decoded
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return nil, classifyBackendError(err)
	}
	return result, nil
}

// Update posts a JSON command body to the core's update handler with an
// immediate commit.
func (c *solrClient) Update(ctx context.Context, core string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "could not encode update", err)
	}
	endpoint := fmt.Sprintf("%s/%s/update/json?commit=true", c.baseURL, core)

	op := func() error {
		ctx, cancel := context.WithTimeout(ctx, requestDeadline)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("search backend status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(apierrors.InvalidInput("search backend rejected update (status %d)", resp.StatusCode))
		}
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return classifyBackendError(err)
	}
	return nil
}

// classifyBackendError keeps caller-addressable errors intact and folds
// everything else into BACKEND_UNAVAILABLE.
func classifyBackendError(err error) error {
	if apierrors.IsKind(err, apierrors.KindInvalidInput) || apierrors.IsKind(err, apierrors.KindNotFound) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "search backend timed out", err)
	}
	return apierrors.Wrap(apierrors.KindBackendUnavailable, "search backend unavailable", err)
}
