// Package client talks to a sync server on behalf of one repository.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const apiPrefix = "/api/repos/"

// Client is a repository-scoped API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	repo    string
	token   string
	http    *retryablehttp.Client
}

type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetries sets how many times a failed request is retried. The default
// is a single attempt.
func WithRetries(n int) Option {
	return func(c *Client) { c.http.RetryMax = n }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.HTTPClient.Timeout = d }
}

// WithLogger routes retry diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.http.Logger = &loggerAdapter{logger.Sugar()} }
}

// loggerAdapter satisfies retryablehttp.LeveledLogger.
type loggerAdapter struct {
	s *zap.SugaredLogger
}

func (l *loggerAdapter) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l *loggerAdapter) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l *loggerAdapter) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *loggerAdapter) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

// New creates a client for repo on the server at baseURL.
func New(baseURL, repo string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 0
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 60 * time.Second
	// Hand the final response back so the caller sees the server's error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		repo:    repo,
		http:    rc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromRemoteURL builds a client from a remote url of the form
// http://host/api/repos/<repo> or http://host/<repo>.
func FromRemoteURL(raw string, opts ...Option) (*Client, error) {
	base, repo, err := ParseRemoteURL(raw)
	if err != nil {
		return nil, err
	}
	return New(base, repo, opts...), nil
}

// ParseRemoteURL splits a remote url into the server base url and the
// repository name.
func ParseRemoteURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", errors.Config(fmt.Sprintf("invalid remote url %q", raw))
	}
	p := strings.TrimRight(u.Path, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 || p[i+1:] == "" {
		return "", "", errors.Config(fmt.Sprintf("remote url %q does not name a repository", raw))
	}
	repo := p[i+1:]
	basePath := strings.TrimSuffix(p[:i+1], apiPrefix)
	basePath = strings.TrimRight(basePath, "/")
	u.Path = basePath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), repo, nil
}

// Repo returns the repository name the client is bound to.
func (c *Client) Repo() string { return c.repo }

func (c *Client) endpoint(p string) string {
	return c.baseURL + apiPrefix + url.PathEscape(c.repo) + p
}

func (c *Client) send(ctx context.Context, method, target string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Transport(fmt.Sprintf("%s %s failed", method, target), 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, responseError(method, target, resp)
	}
	return resp, nil
}

// responseError turns a non-2xx response into a TRANSPORT error. A typed
// error body from the server is kept as the cause.
func responseError(method, target string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var remote errors.Error
	if err := json.Unmarshal(data, &remote); err == nil && remote.Type != "" {
		remote.Code = resp.StatusCode
		return errors.Transport(
			fmt.Sprintf("%s %s: %s", method, target, remote.Message), resp.StatusCode, &remote)
	}
	return errors.Transport(
		fmt.Sprintf("%s %s: %s", method, target, strings.TrimSpace(resp.Status)), resp.StatusCode, nil)
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	resp, err := c.send(ctx, method, c.endpoint(p), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Transport("decoding response from "+p, resp.StatusCode, err)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Has returns the chunks of oid the server does not store.
func (c *Client) Has(ctx context.Context, oid string, chunks []string) ([]string, error) {
	var out shared.HasResponse
	if err := c.do(ctx, http.MethodPost, "/lfs/has", shared.HasRequest{OID: oid, Chunks: chunks}, &out); err != nil {
		return nil, err
	}
	if out.Missing == nil {
		out.Missing = []string{}
	}
	return out.Missing, nil
}

func (c *Client) Upload(ctx context.Context, oid, chunk string, data []byte) error {
	return c.do(ctx, http.MethodPost, "/lfs/upload", shared.UploadRequest{OID: oid, Chunk: chunk, Data: data}, nil)
}

// Download returns a chunk's bytes. The server answers an absent chunk
// with an empty body.
func (c *Client) Download(ctx context.Context, oid, chunk string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodPost, c.endpoint("/lfs/download"), shared.DownloadRequest{OID: oid, Chunk: chunk})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport("reading chunk "+chunk, resp.StatusCode, err)
	}
	return data, nil
}

func (c *Client) Locks(ctx context.Context) ([]shared.LockRecord, error) {
	var locks []shared.LockRecord
	if err := c.do(ctx, http.MethodGet, "/locks/list", nil, &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

func (c *Client) Lock(ctx context.Context, path, owner string) (*shared.LockRecord, error) {
	var lock shared.LockRecord
	if err := c.do(ctx, http.MethodPost, "/locks/lock", shared.LockRequest{Path: path, Owner: owner}, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

// Unlock removes the locks on path held by owner and returns how many
// were removed.
func (c *Client) Unlock(ctx context.Context, path, owner string) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/locks/unlock", shared.LockRequest{Path: path, Owner: owner}, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) Info(ctx context.Context) (*shared.RepositoryInfo, error) {
	var info shared.RepositoryInfo
	if err := c.do(ctx, http.MethodGet, "/sync/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Branches(ctx context.Context) ([]shared.Branch, error) {
	var branches []shared.Branch
	if err := c.do(ctx, http.MethodGet, "/sync/branches", nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

func (c *Client) Push(ctx context.Context, commits []shared.Commit, branch string, force bool) (*shared.SyncResponse, error) {
	if commits == nil {
		commits = []shared.Commit{}
	}
	var out shared.SyncResponse
	req := shared.PushRequest{Commits: commits, Branch: branch, Force: force}
	if err := c.do(ctx, http.MethodPost, "/sync/push", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Pull(ctx context.Context, branch, since string) (*shared.SyncResponse, error) {
	var out shared.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync/pull", shared.PullRequest{Branch: branch, SinceCommit: since}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommitsSince returns the server's commits stored before hash, in the
// server's scan order.
func (c *Client) CommitsSince(ctx context.Context, hash string) ([]shared.Commit, error) {
	var commits []shared.Commit
	if err := c.do(ctx, http.MethodGet, "/sync/commits/"+url.PathEscape(hash), nil, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}
