package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tigsync/internal/auth"
	"tigsync/internal/repo"
	"tigsync/internal/storage"
	shared "tigsync/shared/types"
	"tigsync/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (http.Handler, string) {
	t.Helper()
	root := t.TempDir()
	opts.Root = root
	return NewServer(opts).Handler(), root
}

func do(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func testCommits(t *testing.T, n int) []shared.Commit {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var commits []shared.Commit
	parent := ""
	for i := 0; i < n; i++ {
		c, err := repo.NewCommit(parent, "change", "alice", start.Add(time.Duration(i)*time.Minute), nil)
		require.NoError(t, err)
		commits = append(commits, *c)
		parent = c.Hash
	}
	return commits
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	rec := do(t, h, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestLFS_HasUploadDownload(t *testing.T) {
	h, root := newTestServer(t, Options{})
	oid := utils.HashContent([]byte("big file"))

	rec := do(t, h, "POST", "/api/repos/demo/lfs/has", "", shared.HasRequest{OID: oid, Chunks: []string{"c1", "c2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var has shared.HasResponse
	decodeBody(t, rec, &has)
	assert.Equal(t, []string{"c1", "c2"}, has.Missing, "unknown repository has nothing")

	rec = do(t, h, "POST", "/api/repos/demo/lfs/upload", "", shared.UploadRequest{OID: oid, Chunk: "c2", Data: []byte("second")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.FileExists(t, filepath.Join(root, "demo", repo.DirName, "objects", oid[:2], oid[2:4], oid, "c2"))

	rec = do(t, h, "POST", "/api/repos/demo/lfs/has", "", shared.HasRequest{OID: oid, Chunks: []string{"c1", "c2", "c3"}})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &has)
	assert.Equal(t, []string{"c1", "c3"}, has.Missing)

	rec = do(t, h, "POST", "/api/repos/demo/lfs/download", "", shared.DownloadRequest{OID: oid, Chunk: "c2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "second", rec.Body.String())

	rec = do(t, h, "POST", "/api/repos/demo/lfs/download", "", shared.DownloadRequest{OID: oid, Chunk: "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes(), "absent chunk downloads as empty")
}

func TestLFS_Validation(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	oid := utils.HashContent([]byte("x"))

	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{name: "bad oid", target: "/api/repos/demo/lfs/upload", body: shared.UploadRequest{OID: "zz", Chunk: "c1"}, want: http.StatusBadRequest},
		{name: "escaping chunk", target: "/api/repos/demo/lfs/upload", body: shared.UploadRequest{OID: oid, Chunk: ".."}, want: http.StatusBadRequest},
		{name: "hidden repo", target: "/api/repos/.tig/lfs/upload", body: shared.UploadRequest{OID: oid, Chunk: "c1"}, want: http.StatusBadRequest},
		{name: "unknown repo download", target: "/api/repos/nope/lfs/download", body: shared.DownloadRequest{OID: oid, Chunk: "c1"}, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", tt.target, "", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest("POST", "/api/repos/demo/lfs/has", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION")
}

func TestLocks(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rec := do(t, h, "POST", "/api/repos/demo/locks/lock", "", shared.LockRequest{Path: "a.psd", Owner: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "POST", "/api/repos/demo/locks/lock", "", shared.LockRequest{Path: "a.psd", Owner: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", "/api/repos/demo/locks/list", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var locks []shared.LockRecord
	decodeBody(t, rec, &locks)
	require.Len(t, locks, 2)

	rec = do(t, h, "POST", "/api/repos/demo/locks/unlock", "", shared.LockRequest{Path: "a.psd", Owner: "carol"})
	require.Equal(t, http.StatusOK, rec.Code)
	var unlocked UnlockResponse
	decodeBody(t, rec, &unlocked)
	assert.Equal(t, 0, unlocked.Removed)

	rec = do(t, h, "POST", "/api/repos/demo/locks/unlock", "", shared.LockRequest{Path: "a.psd", Owner: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &unlocked)
	assert.Equal(t, 1, unlocked.Removed)

	rec = do(t, h, "GET", "/api/repos/demo/locks/list", "", nil)
	decodeBody(t, rec, &locks)
	require.Len(t, locks, 1)
	assert.Equal(t, "bob", locks[0].Owner)

	rec = do(t, h, "POST", "/api/repos/demo/locks/lock", "", shared.LockRequest{Path: "", Owner: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync_PushPull(t *testing.T) {
	h, root := newTestServer(t, Options{})
	commits := testCommits(t, 3)

	rec := do(t, h, "POST", "/api/repos/demo/sync/push", "", shared.PushRequest{Commits: commits, Branch: "main"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp shared.SyncResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.CommitsProcessed)

	head, err := os.ReadFile(filepath.Join(root, "demo", repo.DirName, "refs", "heads", "main"))
	require.NoError(t, err)
	assert.Equal(t, commits[2].Hash, string(bytes.TrimSpace(head)))

	// Re-pushing the same batch conflicts on every commit.
	rec = do(t, h, "POST", "/api/repos/demo/sync/push", "", shared.PushRequest{Commits: commits, Branch: "main"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = shared.SyncResponse{}
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.CommitsProcessed)
	require.Len(t, resp.Conflicts, 3)
	assert.Equal(t, "commit "+commits[0].Hash+" already exists", resp.Conflicts[0])

	rec = do(t, h, "POST", "/api/repos/demo/sync/push", "", shared.PushRequest{Commits: commits, Branch: "main", Force: true})
	resp = shared.SyncResponse{}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Conflicts)

	rec = do(t, h, "POST", "/api/repos/demo/sync/pull", "", shared.PullRequest{Branch: "main"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = shared.SyncResponse{}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	require.Len(t, resp.Commits, 3)
	assert.Equal(t, commits[2].Hash, resp.Commits[0].Hash, "newest first")

	rec = do(t, h, "POST", "/api/repos/demo/sync/pull", "", shared.PullRequest{Branch: "main", SinceCommit: commits[0].Hash})
	resp = shared.SyncResponse{}
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Commits, 2)

	rec = do(t, h, "POST", "/api/repos/demo/sync/pull", "", shared.PullRequest{Branch: "feature"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = shared.SyncResponse{}
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "feature")
}

func TestSync_InfoBranchesCommits(t *testing.T) {
	h, _ := newTestServer(t, Options{PublicURL: "http://tig.example"})

	rec := do(t, h, "GET", "/api/repos/demo/sync/info", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	commits := testCommits(t, 2)
	rec = do(t, h, "POST", "/api/repos/demo/sync/push", "", shared.PushRequest{Commits: commits})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", "/api/repos/demo/sync/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info shared.RepositoryInfo
	decodeBody(t, rec, &info)
	assert.Equal(t, "demo", info.Name)
	assert.Equal(t, commits[1].Hash, info.HeadCommit)
	assert.Equal(t, "http://tig.example/api/repos/demo", info.RemoteURL)

	rec = do(t, h, "GET", "/api/repos/demo/sync/branches", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var branches []shared.Branch
	decodeBody(t, rec, &branches)
	require.Len(t, branches, 1)
	assert.Equal(t, "main", branches[0].Name)

	rec = do(t, h, "GET", "/api/repos/demo/sync/commits/unknown", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []shared.Commit
	decodeBody(t, rec, &all)
	assert.Len(t, all, 2, "unknown hash returns every commit")
}

func TestAuthGate(t *testing.T) {
	db, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tokens := auth.NewTokenStore(db, "server-secret-0123456789", nil)

	ctx := context.Background()
	reader, err := tokens.Issue(ctx, "rita", []auth.Permission{auth.PermissionRead}, 0)
	require.NoError(t, err)
	writer, err := tokens.Issue(ctx, "walt", []auth.Permission{auth.PermissionWrite, auth.PermissionLock}, 0)
	require.NoError(t, err)

	h, _ := newTestServer(t, Options{Gate: tokens})
	oid := utils.HashContent([]byte("payload"))
	upload := shared.UploadRequest{OID: oid, Chunk: "c1", Data: []byte("payload")}

	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   any
		want   int
	}{
		{name: "upload without token", method: "POST", target: "/api/repos/demo/lfs/upload", body: upload, want: http.StatusUnauthorized},
		{name: "upload with bad token", method: "POST", target: "/api/repos/demo/lfs/upload", token: "a.b.c", body: upload, want: http.StatusUnauthorized},
		{name: "upload with read token", method: "POST", target: "/api/repos/demo/lfs/upload", token: reader.Token, body: upload, want: http.StatusForbidden},
		{name: "upload with write token", method: "POST", target: "/api/repos/demo/lfs/upload", token: writer.Token, body: upload, want: http.StatusOK},
		{name: "has is open", method: "POST", target: "/api/repos/demo/lfs/has", body: shared.HasRequest{OID: oid, Chunks: []string{"c1"}}, want: http.StatusOK},
		{name: "lock for another owner", method: "POST", target: "/api/repos/demo/locks/lock", token: writer.Token, body: shared.LockRequest{Path: "a", Owner: "rita"}, want: http.StatusForbidden},
		{name: "lock own path", method: "POST", target: "/api/repos/demo/locks/lock", token: writer.Token, body: shared.LockRequest{Path: "a", Owner: "walt"}, want: http.StatusOK},
		{name: "push with read token", method: "POST", target: "/api/repos/demo/sync/push", token: reader.Token, body: shared.PushRequest{}, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	gated, _ := newTestServer(t, Options{Gate: tokens, GateReads: true})
	rec := do(t, gated, "GET", "/api/repos/demo/locks/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, gated, "GET", "/api/repos/demo/sync/branches", reader.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "authorized, repository absent")
}
