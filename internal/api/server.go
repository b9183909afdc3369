// Package api is the remote sync server: chunk transfer, advisory locks and
// commit exchange for every repository under a storage root.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"path/filepath"

	"tigsync/internal/auth"
	"tigsync/internal/errors"
	"tigsync/internal/logging"
	"tigsync/internal/objects"
	"tigsync/internal/repo"
	"tigsync/internal/validation"

	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds request bodies. Upload bodies carry a base64
// chunk, so this leaves room for chunks well above the default size.
const DefaultMaxBodyBytes = 256 << 20

// Options configures a Server.
type Options struct {
	// Root holds one directory per repository.
	Root string
	// Backend stores chunk payloads. When nil, chunks live in each
	// repository's own .tig/objects directory.
	Backend objects.Backend
	// Gate authorizes requests; nil means auth.AllowAll.
	Gate auth.Gate
	// GateReads extends authorization to read-only endpoints.
	GateReads bool
	// RefCache is shared by every repository opened by the server.
	RefCache *repo.RefCache
	// PublicURL is reported as the remote url in repository info.
	PublicURL    string
	MaxBodyBytes int64
	Logger       *logging.Logger
}

// Server serves the sync API.
type Server struct {
	root         string
	backend      objects.Backend
	gate         auth.Gate
	gateReads    bool
	refs         *repo.RefCache
	publicURL    string
	maxBodyBytes int64
	logger       *logging.Logger
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	s := &Server{
		root:         opts.Root,
		backend:      opts.Backend,
		gate:         opts.Gate,
		gateReads:    opts.GateReads,
		refs:         opts.RefCache,
		publicURL:    opts.PublicURL,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}
	if s.gate == nil {
		s.gate = auth.AllowAll{}
	}
	if s.maxBodyBytes == 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.Health)

	const base = "/api/repos/{repo}"

	mux.HandleFunc("POST "+base+"/lfs/has", s.LFSHas)
	mux.HandleFunc("POST "+base+"/lfs/upload", s.LFSUpload)
	mux.HandleFunc("POST "+base+"/lfs/download", s.LFSDownload)

	mux.HandleFunc("GET "+base+"/locks/list", s.LocksList)
	mux.HandleFunc("POST "+base+"/locks/lock", s.LocksLock)
	mux.HandleFunc("POST "+base+"/locks/unlock", s.LocksUnlock)

	mux.HandleFunc("GET "+base+"/sync/info", s.SyncInfo)
	mux.HandleFunc("POST "+base+"/sync/push", s.SyncPush)
	mux.HandleFunc("POST "+base+"/sync/pull", s.SyncPull)
	mux.HandleFunc("GET "+base+"/sync/branches", s.SyncBranches)
	mux.HandleFunc("GET "+base+"/sync/commits/{since}", s.SyncCommitsSince)
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) repoOptions() []repo.Option {
	opts := []repo.Option{repo.WithLogger(s.logger.Logger)}
	if s.refs != nil {
		opts = append(opts, repo.WithRefCache(s.refs))
	}
	return opts
}

// openRepo opens an existing repository named in the request path.
func (s *Server) openRepo(r *http.Request) (*repo.Repository, error) {
	name := r.PathValue("repo")
	if err := repo.ValidateName(name); err != nil {
		return nil, err
	}
	return repo.Open(filepath.Join(s.root, name), s.repoOptions()...)
}

// initRepo opens the repository, creating it on first write.
func (s *Server) initRepo(r *http.Request) (*repo.Repository, error) {
	name := r.PathValue("repo")
	if err := repo.ValidateName(name); err != nil {
		return nil, err
	}
	return repo.Init(filepath.Join(s.root, name), s.repoOptions()...)
}

func (s *Server) chunkStore(rp *repo.Repository) (*objects.ChunkStore, error) {
	if s.backend != nil {
		return objects.NewChunkStore(s.backend, path.Join(rp.Name(), "objects")), nil
	}
	backend, err := objects.NewLocalBackend(rp.Root())
	if err != nil {
		return nil, err
	}
	return objects.NewChunkStore(backend, "objects"), nil
}

// authorize runs the gate for perm. Read requests pass unchecked unless
// reads are gated. It writes the error response itself and reports whether
// the handler may continue. The returned request carries the validated
// token, see auth.TokenFromContext.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, perm auth.Permission) (*http.Request, bool) {
	if perm == auth.PermissionRead && !s.gateReads {
		return r, true
	}

	token, err := s.gate.ValidateToken(r.Context(), auth.ExtractToken(r))
	if err != nil {
		s.writeError(w, r, errors.Internal("validating token", err))
		return r, false
	}
	if token == nil {
		s.writeError(w, r, errors.Unauthorized("missing or invalid token"))
		return r, false
	}
	if !s.gate.HasPermission(token, perm) {
		s.writeError(w, r, errors.Forbidden(fmt.Sprintf("token lacks %s permission", perm)))
		return r, false
	}
	return r.WithContext(auth.WithToken(r.Context(), token)), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := validation.DecodeRequest(r, v); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError reports err as a JSON error body. Errors outside the taxonomy
// are logged and hidden behind a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.StatusCode(err)
	body := &errors.Error{Type: errors.TypeOf(err), Code: status}

	var e *errors.Error
	if errors.As(err, &e) && e.Type != errors.ErrorTypeInternal {
		body.Message = e.Message
		body.Details = e.Details
	} else {
		s.logger.WithRequestID(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		body.Message = "internal server error"
	}
	writeJSON(w, status, body)
}
