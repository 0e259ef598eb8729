package search

import (
	"context"
	"net/url"
	"strconv"

	"github.com/freva-org/freva-rest/internal/models"
)

// cursorStream walks a Solr result set page by page using cursorMark.
// Documents surface in index order (id ascending, stable across pages).
// Close abandons the cursor; the backend holds no server-side state for
// cursorMark so release is purely local.
type cursorStream struct {
	client *solrClient
	core   string
	params url.Values

	buffer    []map[string]interface{}
	pos       int
	cursor    string
	total     int64
	remaining int64
	done      bool
}

// newCursorStream primes the stream with its first page.
func newCursorStream(ctx context.Context, client *solrClient, core string, params url.Values, start int64, batchSize int, maxResults int64) (*cursorStream, error) {
	params = cloneValues(params)
	params.Set("sort", "id asc")
	params.Set("rows", strconv.Itoa(batchSize))
	params.Set("cursorMark", "*")

	s := &cursorStream{
		client:    client,
		core:      core,
		params:    params,
		cursor:    "*",
		remaining: -1,
	}
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	// cursorMark cannot seek, so an offset is skipped by draining.
	for start > 0 && !s.exhausted() {
		n := int64(len(s.buffer) - s.pos)
		if n > start {
			s.pos += int(start)
			break
		}
		start -= n
		s.pos = len(s.buffer)
		if err := s.advance(ctx); err != nil {
			return nil, err
		}
	}
	if maxResults > 0 {
		s.remaining = maxResults
	}
	return s, nil
}

func (s *cursorStream) fetch(ctx context.Context) error {
	s.params.Set("cursorMark", s.cursor)
	resp, err := s.client.Select(ctx, s.core, s.params)
	if err != nil {
		return err
	}
	s.total = resp.Response.NumFound
	s.buffer = resp.Response.Docs
	s.pos = 0
	if resp.NextCursorMark == "" || resp.NextCursorMark == s.cursor {
		s.done = true
	}
	s.cursor = resp.NextCursorMark
	return nil
}

func (s *cursorStream) advance(ctx context.Context) error {
	if s.done {
		s.buffer = nil
		return nil
	}
	return s.fetch(ctx)
}

func (s *cursorStream) exhausted() bool {
	return s.pos >= len(s.buffer) && s.done
}

// Next returns the next document, ok=false at end of stream.
func (s *cursorStream) Next(ctx context.Context) (models.SearchDocument, bool, error) {
	if s.remaining == 0 {
		return nil, false, nil
	}
	for s.pos >= len(s.buffer) {
		if s.done {
			return nil, false, nil
		}
		if err := s.advance(ctx); err != nil {
			return nil, false, err
		}
		if len(s.buffer) == 0 && s.done {
			return nil, false, nil
		}
	}
	doc := models.SearchDocument(s.buffer[s.pos])
	s.pos++
	if s.remaining > 0 {
		s.remaining--
	}
	return doc, true, nil
}

// Close releases the stream. Safe to call repeatedly.
func (s *cursorStream) Close() {
	s.buffer = nil
	s.done = true
}

// Total reports the backend's match count for the whole query.
func (s *cursorStream) Total() int64 {
	return s.total
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, vs := range in {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
