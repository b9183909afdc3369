package api

import (
	"net/http"
	"strconv"

	"tigsync/internal/auth"
	"tigsync/internal/errors"
	"tigsync/internal/metrics"
	shared "tigsync/shared/types"

	"go.uber.org/zap"
)

// LFSHas reports which of the requested chunks the server lacks.
func (s *Server) LFSHas(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	var req shared.HasRequest
	if !s.decode(w, r, &req) {
		return
	}

	rp, err := s.openRepo(r)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		// Nothing has been uploaded to a repository that does not exist yet.
		missing := append([]string{}, req.Chunks...)
		metrics.RecordMissingChunks(len(missing))
		writeJSON(w, http.StatusOK, shared.HasResponse{Missing: missing})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	store, err := s.chunkStore(rp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	missing, err := store.Missing(r.Context(), req.OID, req.Chunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordMissingChunks(len(missing))
	writeJSON(w, http.StatusOK, shared.HasResponse{Missing: missing})
}

// LFSUpload stores one chunk, replacing any previous content.
func (s *Server) LFSUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionWrite); !ok {
		return
	}

	var req shared.UploadRequest
	if !s.decode(w, r, &req) {
		return
	}

	rp, err := s.initRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	store, err := s.chunkStore(rp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := store.Put(r.Context(), req.OID, req.Chunk, req.Data); err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordChunkTransfer("upload", len(req.Data))
	s.logger.WithRequestID(r.Context()).Debug("chunk stored",
		zap.String("repo", rp.Name()),
		zap.String("oid", req.OID),
		zap.String("chunk", req.Chunk),
		zap.Int("bytes", len(req.Data)))

	writeJSON(w, http.StatusOK, shared.StatusResponse{Status: "ok"})
}

// LFSDownload returns a chunk's raw bytes. An absent chunk yields an empty
// body.
func (s *Server) LFSDownload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	var req shared.DownloadRequest
	if !s.decode(w, r, &req) {
		return
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	store, err := s.chunkStore(rp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := store.Get(r.Context(), req.OID, req.Chunk)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordChunkTransfer("download", len(data))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// LocksList returns every lock record of the repository.
func (s *Server) LocksList(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, auth.PermissionRead); !ok {
		return
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	locks, err := rp.Locks()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordLockOperation("list")
	writeJSON(w, http.StatusOK, locks)
}

// checkOwner stops a token from acting on another user's locks. Admin
// tokens and the anonymous admin used without auth may act for anyone.
func (s *Server) checkOwner(w http.ResponseWriter, r *http.Request, owner string) bool {
	token := auth.TokenFromContext(r.Context())
	if token == nil || token.UserID == owner || s.gate.HasPermission(token, auth.PermissionAdmin) {
		return true
	}
	s.writeError(w, r, errors.Forbidden("cannot act on locks owned by "+owner))
	return false
}

// LocksLock records a lock.
func (s *Server) LocksLock(w http.ResponseWriter, r *http.Request) {
	r, ok := s.authorize(w, r, auth.PermissionLock)
	if !ok {
		return
	}

	var req shared.LockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkOwner(w, r, req.Owner) {
		return
	}

	rp, err := s.initRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lock, err := rp.Lock(req.Path, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordLockOperation("lock")
	s.logger.WithRequestID(r.Context()).Info("lock acquired",
		zap.String("repo", rp.Name()),
		zap.String("path", lock.Path),
		zap.String("owner", lock.Owner))

	writeJSON(w, http.StatusOK, lock)
}

// UnlockResponse reports how many lock records were removed.
type UnlockResponse struct {
	Status  string `json:"status"`
	Removed int    `json:"removed"`
}

// LocksUnlock removes the locks matching both path and owner.
func (s *Server) LocksUnlock(w http.ResponseWriter, r *http.Request) {
	r, ok := s.authorize(w, r, auth.PermissionLock)
	if !ok {
		return
	}

	var req shared.LockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkOwner(w, r, req.Owner) {
		return
	}

	rp, err := s.openRepo(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	removed, err := rp.Unlock(req.Path, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.RecordLockOperation("unlock")
	writeJSON(w, http.StatusOK, UnlockResponse{Status: "ok", Removed: removed})
}
