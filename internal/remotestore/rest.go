package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const defaultRequestTimeout = 15 * time.Second

// TokenSource supplies the current access token for authenticated calls.
// It returns the empty string when no session exists.
type TokenSource func() string

// RestRemoteStore talks to a hosted backend over a JSON table API:
//
//	POST   {base}/{table}            insert, responds with the canonical row
//	POST   {base}/{table}/batch      batch insert
//	PATCH  {base}/{table}/{id}       partial update
//	DELETE {base}/{table}/{id}       delete
//	GET    {base}/{table}/{id}       select one
//	GET    {base}/{table}?...        select many
//	POST   {base}/auth/token         password sign-in
type RestRemoteStore struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	token   TokenSource
	log     logrus.FieldLogger
}

func NewRestRemoteStore(baseURL string, token TokenSource, log logrus.FieldLogger) *RestRemoteStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infof("circuit breaker %q changed from %s to %s", name, from.String(), to.String())
		},
	})

	return &RestRemoteStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		breaker: breaker,
		token:   token,
		log:     log,
	}
}

func (r *RestRemoteStore) do(ctx context.Context, method, url string, body, dest any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != nil {
		if tok := r.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	res, err := r.breaker.Execute(func() (any, error) {
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return &restResponse{status: resp.StatusCode},
				fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		return &restResponse{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		status := 0
		if rr, ok := res.(*restResponse); ok && rr != nil {
			status = rr.status
		}
		return status, err
	}

	rr := res.(*restResponse)
	if dest != nil && len(rr.body) > 0 {
		if err := json.Unmarshal(rr.body, dest); err != nil {
			return rr.status, fmt.Errorf("decode response: %w", err)
		}
	}

	return rr.status, nil
}

type restResponse struct {
	status int
	body   []byte
}

func (r *RestRemoteStore) tableURL(table string, parts ...string) string {
	u := r.baseURL + "/" + table
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (r *RestRemoteStore) Insert(ctx context.Context, table string, row any, dest any) error {
	status, err := r.do(ctx, http.MethodPost, r.tableURL(table), row, dest)
	if err != nil {
		return &RemoteError{Op: "insert", Table: table, Status: status, Err: err}
	}
	return nil
}

func (r *RestRemoteStore) InsertBatch(ctx context.Context, table string, rows any) error {
	status, err := r.do(ctx, http.MethodPost, r.tableURL(table)+"/batch", rows, nil)
	if err != nil {
		return &RemoteError{Op: "insert_batch", Table: table, Status: status, Err: err}
	}
	return nil
}

func (r *RestRemoteStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	status, err := r.do(ctx, http.MethodPatch, r.tableURL(table, id), fields, nil)
	if err != nil {
		return &RemoteError{Op: "update", Table: table, Status: status, Err: err}
	}
	return nil
}

func (r *RestRemoteStore) Delete(ctx context.Context, table, id string) error {
	status, err := r.do(ctx, http.MethodDelete, r.tableURL(table, id), nil, nil)
	if err != nil {
		return &RemoteError{Op: "delete", Table: table, Status: status, Err: err}
	}
	return nil
}

func (r *RestRemoteStore) SelectOne(ctx context.Context, table, id string, dest any) error {
	status, err := r.do(ctx, http.MethodGet, r.tableURL(table, id), nil, dest)
	if err != nil {
		if status == http.StatusNotFound {
			return &RemoteError{Op: "select_one", Table: table, Status: status, Err: ErrNotFound}
		}
		return &RemoteError{Op: "select_one", Table: table, Status: status, Err: err}
	}
	return nil
}

func (r *RestRemoteStore) SelectMany(ctx context.Context, table string, q Query, dest any) error {
	params := url.Values{}
	for k, v := range q.Filter {
		params.Set(k, fmt.Sprint(v))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	u := r.tableURL(table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	status, err := r.do(ctx, http.MethodGet, u, nil, dest)
	if err != nil {
		return &RemoteError{Op: "select_many", Table: table, Status: status, Err: err}
	}
	return nil
}

func (r *RestRemoteStore) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	var auth AuthResult
	status, err := r.do(ctx, http.MethodPost, r.baseURL+"/auth/token", map[string]string{
		"email":    email,
		"password": password,
	}, &auth)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			err = fmt.Errorf("%v: %w", err, ErrBadCredentials)
		}
		return AuthResult{}, &RemoteError{Op: "sign_in", Table: "auth", Status: status, Err: err}
	}
	return auth, nil
}

func (r *RestRemoteStore) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
