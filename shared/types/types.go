// Package shared holds the records exchanged between the sync server, the
// client and the workspace.
package shared

import "time"

// FileOperation is the kind of change a commit makes to one path.
type FileOperation string

const (
	OpAdded    FileOperation = "added"
	OpModified FileOperation = "modified"
	OpDeleted  FileOperation = "deleted"
	OpRenamed  FileOperation = "renamed"
)

// FileChange records one path touched by a commit. From is only set for
// renames.
type FileChange struct {
	Path        string        `json:"path"`
	Operation   FileOperation `json:"operation"`
	From        string        `json:"from,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
}

// Commit is one node of the singly-linked history. A commit without a
// parent is a root.
type Commit struct {
	Hash      string       `json:"hash"`
	Message   string       `json:"message"`
	Author    string       `json:"author"`
	Timestamp time.Time    `json:"timestamp"`
	Parent    string       `json:"parent,omitempty"`
	Files     []FileChange `json:"files"`
}

// Branch is a named ref.
type Branch struct {
	Name           string `json:"name"`
	HeadCommit     string `json:"head_commit"`
	RemoteTracking string `json:"remote_tracking,omitempty"`
}

// LockRecord is an advisory claim on a path.
type LockRecord struct {
	Path      string    `json:"path"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// RepositoryInfo summarises a repository's refs.
type RepositoryInfo struct {
	Name       string   `json:"name"`
	Branches   []Branch `json:"branches"`
	HeadCommit string   `json:"head_commit,omitempty"`
	RemoteURL  string   `json:"remote_url,omitempty"`
}

// SyncResponse is returned by push and pull.
type SyncResponse struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	CommitsProcessed int      `json:"commits_processed"`
	Conflicts        []string `json:"conflicts"`
	Commits          []Commit `json:"commits,omitempty"`
}

// PushRequest is the body of sync/push.
type PushRequest struct {
	Commits []Commit `json:"commits"`
	Branch  string   `json:"branch"`
	Force   bool     `json:"force"`
}

// PullRequest is the body of sync/pull.
type PullRequest struct {
	Branch      string `json:"branch"`
	SinceCommit string `json:"since_commit,omitempty"`
}

// UploadRequest is the body of lfs/upload. Data is base64 in JSON.
type UploadRequest struct {
	OID   string `json:"oid"`
	Chunk string `json:"chunk"`
	Data  []byte `json:"data"`
}

// DownloadRequest is the body of lfs/download.
type DownloadRequest struct {
	OID   string `json:"oid"`
	Chunk string `json:"chunk"`
}

// HasRequest is the body of lfs/has.
type HasRequest struct {
	OID    string   `json:"oid"`
	Chunks []string `json:"chunks"`
}

// HasResponse lists the requested chunks the server does not hold.
type HasResponse struct {
	Missing []string `json:"missing"`
}

// LockRequest is the body of locks/lock and locks/unlock.
type LockRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

// StatusResponse acknowledges a mutating request.
type StatusResponse struct {
	Status string `json:"status"`
}
