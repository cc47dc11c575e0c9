// ABOUTME: HTTP adapter for the Remote Store using bearer-token auth
// ABOUTME: PUT/DELETE/GET against /v1/{collection}[/{id}] with status-based error classification
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// HTTPStore talks to a document API over HTTP.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore builds a store for baseURL. A non-empty token is sent as a
// bearer token on every request.
func NewHTTPStore(ctx context.Context, baseURL, token string, timeout time.Duration) *HTTPStore {
	client := &http.Client{}
	if token != "" {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client.Timeout = timeout
	return &HTTPStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPStore) Upsert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/v1/%s/%s", s.baseURL, url.PathEscape(collection), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(doc))
	if err != nil {
		return &Error{Kind: Permanent, Op: "upsert", Collection: collection, ID: id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = s.do(req, "upsert", collection, id, nil)
	return err
}

func (s *HTTPStore) Delete(ctx context.Context, collection, id string) error {
	endpoint := fmt.Sprintf("%s/v1/%s/%s", s.baseURL, url.PathEscape(collection), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return &Error{Kind: Permanent, Op: "delete", Collection: collection, ID: id, Err: err}
	}

	_, err = s.do(req, "delete", collection, id, []int{http.StatusNotFound})
	return err
}

type queryResponse struct {
	Documents []json.RawMessage `json:"documents"`
}

func (s *HTTPStore) Query(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	params := url.Values{}
	for k, v := range q.Filter {
		params.Set(k, v)
	}
	if q.OrderBy != "" {
		order := q.OrderBy
		if q.Desc {
			order = "-" + order
		}
		params.Set("order", order)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	endpoint := fmt.Sprintf("%s/v1/%s", s.baseURL, url.PathEscape(collection))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: "query", Collection: collection, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	body, err := s.do(req, "query", collection, "", nil)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: Transient, Op: "query", Collection: collection, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.Documents, nil
}

// do sends req and classifies the outcome. Status codes in okStatus are
// treated as success in addition to 2xx.
func (s *HTTPStore) do(req *http.Request, op, collection, id string, okStatus []int) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Op: op, Collection: collection, ID: id, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &Error{Kind: Transient, Op: op, Collection: collection, ID: id, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	for _, code := range okStatus {
		if resp.StatusCode == code {
			return body, nil
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return nil, &Error{
		Kind:       KindForStatus(resp.StatusCode),
		Op:         op,
		Collection: collection,
		ID:         id,
		StatusCode: resp.StatusCode,
		Err:        errors.New(msg),
	}
}
