package api

import (
	"net/http"

	"tigsync/internal/auth"
	"tigsync/internal/metrics"
	"tigsync/internal/repo"
	shared "tigsync/shared/types"

	"go.uber.org/zap"
)

// SyncInfo describes the repository's branches and HEAD.
func (s *Server) SyncInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	remoteURL := ""
	if s.publicURL != "" {
		remoteURL = s.publicURL + "/api/repos/" + rp.Name()
	}
	info, err := rp.Info(remoteURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// SyncPush stores the pushed commits and advances the branch when none
// conflicted. Conflicts are reported in a 200 response.
func (s *Server) SyncPush(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionWrite); !ok {
		return
	}

	var req shared.PushRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Branch == "" {
		req.Branch = repo.DefaultBranch
	}

	rp, err := s.initRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := rp.ApplyPush(req.Commits, req.Branch, req.Force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordPush(resp.CommitsProcessed, len(resp.Conflicts))
	s.logger.WithRequestID(r.Context()).Info("push applied",
		zap.String("repo", rp.Name()),
		zap.String("branch", req.Branch),
		zap.Bool("force", req.Force),
		zap.Int("written", resp.CommitsProcessed),
		zap.Int("conflicts", len(resp.Conflicts)))

	writeJSON(w, http.StatusOK, resp)
}

// SyncPull returns commits for the client to apply.
func (s *Server) SyncPull(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	var req shared.PullRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Branch == "" {
		req.Branch = repo.DefaultBranch
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := rp.Pull(req.Branch, req.SinceCommit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncBranches lists every branch with its head commit.
func (s *Server) SyncBranches(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	branches, err := rp.Branches()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

// SyncCommitsSince returns the commits stored before the named one, in
// directory order.
func (s *Server) SyncCommitsSince(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	commits, err := rp.CommitsSince(r.PathValue("since"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}
