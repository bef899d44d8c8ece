package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/webdav"

	"scripthost/internal/auth"
	"scripthost/internal/config"
	"scripthost/internal/metrics"
	"scripthost/internal/pathsafe"
	"scripthost/internal/ratelimit"
	"scripthost/internal/session"
	"scripthost/internal/upload"
	"scripthost/internal/userstore"
)

type Options struct {
	Config config.Config
	Users  *userstore.Store
}

type Server struct {
	cfg      config.Config
	users    *userstore.Store
	sessions *session.Manager
	saver    *upload.Saver
	limiter  *ratelimit.Limiter
	metrics  *metrics.Collector
	davLocks webdav.LockSystem

	webFS fs.FS
}

//go:embed web/index.html
var embeddedWeb embed.FS

// chi only routes methods it knows about; WebDAV listing needs PROPFIND.
func init() {
	chi.RegisterMethod("PROPFIND")
}

func New(opts Options) (*Server, error) {
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	cfg := opts.Config
	return &Server{
		cfg:      cfg,
		users:    opts.Users,
		sessions: session.NewManager(time.Duration(cfg.SessionTTL)),
		saver:    upload.NewSaver(cfg.UploadsDir, cfg.MaxUploadBytes),
		limiter:  ratelimit.New(cfg.AuthRatePerMin, cfg.AuthRateBurst),
		metrics:  metrics.NewCollector(),
		davLocks: webdav.NewMemLS(),
		webFS:    sub,
	}, nil
}

// Close stops background goroutines.
func (s *Server) Close() {
	s.sessions.Stop()
	s.limiter.Stop()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// pre-auth endpoints get the per-IP limiter
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/api/register", s.handleRegister)
		r.Post("/api/login", s.handleLogin)
	})

	r.Get("/api/me", s.handleMe)

	// session-required surface
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/api/logout", s.handleLogout)
		r.Post("/upload", s.handleUpload)
		r.Get("/files", s.handleFiles)
		r.Handle("/dav", http.HandlerFunc(s.handleDav))
		r.Handle("/dav/*", http.HandlerFunc(s.handleDav))
	})

	// public raw serving
	r.Get("/raw/{username}/*", s.handleRaw)

	// UI index
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		b, err := fs.ReadFile(s.webFS, "index.html")
		if err != nil {
			http.Error(w, "missing ui", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return r
}

// requireSession attaches the caller's identity or rejects with 401.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.sessions.Identify(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// --- handlers ---

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	// usernames are rejected, not coerced, when sanitizing would change them
	if !pathsafe.IsCleanSegment(req.Username) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash failed")
		return
	}
	u, err := s.users.Create(req.Username, hash)
	if errors.Is(err, userstore.ErrDuplicateUsername) {
		writeError(w, http.StatusBadRequest, "username already taken")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failed")
		return
	}
	s.metrics.RecordRegistration()
	s.sessions.Start(w, auth.Identity{UserID: u.ID, Username: u.Username})
	writeJSON(w, map[string]any{"ok": true, "username": u.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	u, err := s.users.VerifyCredentials(req.Username, req.Password)
	if err != nil {
		// same message for unknown user and wrong password
		s.metrics.RecordLogin("failure")
		writeError(w, http.StatusBadRequest, "invalid username or password")
		return
	}
	s.metrics.RecordLogin("success")
	s.sessions.Start(w, auth.Identity{UserID: u.ID, Username: u.Username})
	writeJSON(w, map[string]any{"ok": true, "username": u.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Destroy(w, r)
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.sessions.Identify(r); ok {
		writeJSON(w, map[string]any{"logged": true, "username": id.Username})
		return
	}
	writeJSON(w, map[string]any{"logged": false})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	// allow some slack over the cap for multipart framing; the saver
	// enforces the exact per-file ceiling
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.metrics.RecordUpload("bad_multipart")
		writeError(w, http.StatusBadRequest, "bad multipart")
		return
	}
	fh := firstFile(r.MultipartForm)
	if fh == nil {
		s.metrics.RecordUpload("missing_file")
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	src, err := fh.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "open upload")
		return
	}
	defer src.Close()

	_, err = s.saver.Save(id.Username, fh.Filename, fh.Size, src)
	switch {
	case errors.Is(err, upload.ErrBadType):
		s.metrics.RecordUpload("bad_type")
		writeError(w, http.StatusBadRequest, "file type not allowed")
		return
	case errors.Is(err, upload.ErrTooLarge):
		s.metrics.RecordUpload("too_large")
		writeError(w, http.StatusBadRequest, "file too large")
		return
	case err != nil:
		s.metrics.RecordUpload("write_failed")
		writeError(w, http.StatusInternalServerError, "write failed")
		return
	}
	s.metrics.RecordUpload("ok")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func firstFile(mf *multipart.Form) *multipart.FileHeader {
	if mf == nil || len(mf.File) == 0 {
		return nil
	}
	// Prefer key "file" if present.
	if v := mf.File["file"]; len(v) > 0 {
		return v[0]
	}
	// Else first key lexicographically for stable behavior.
	keys := make([]string, 0, len(mf.File))
	for k := range mf.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := mf.File[k]; len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

type fileItem struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Mtime  int64  `json:"mtime"`
	Ext    string `json:"ext"`
	RawURL string `json:"rawUrl"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	stored, err := s.saver.List(id.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	items := make([]fileItem, 0, len(stored))
	for _, f := range stored {
		items = append(items, fileItem{
			Name:   f.Name,
			Size:   f.Size,
			Mtime:  f.ModifiedAt.Unix(),
			Ext:    f.Ext,
			RawURL: rawURL(r, id.Username, f.Name),
		})
	}
	writeJSON(w, items)
}

// rawURL builds "<scheme>://<host>/raw/<username>/<storedName>". The format
// is load-bearing for downstream script loaders; do not change it. Segments
// are path-escaped, which leaves clean names byte-for-byte unchanged.
func rawURL(r *http.Request, username, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fp := r.Header.Get("X-Forwarded-Proto"); fp != "" {
		scheme = fp
	}
	return fmt.Sprintf("%s://%s/raw/%s/%s", scheme, r.Host, url.PathEscape(username), url.PathEscape(name))
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	username := pathsafe.SanitizeSegment(chi.URLParam(r, "username"))
	filename := chi.URLParam(r, "*")

	// a username that sanitizes away entirely would resolve to the uploads
	// root and let the wildcard address any user's namespace
	if username == "" {
		s.metrics.RecordRawServe("bad_path")
		writeError(w, http.StatusBadRequest, "bad path")
		return
	}
	userDir, err := pathsafe.JoinUnder(s.cfg.UploadsDir, username)
	if err != nil {
		s.metrics.RecordRawServe("bad_path")
		writeError(w, http.StatusBadRequest, "bad path")
		return
	}
	// traversal check runs on the resolved path, not the raw string
	abs, err := pathsafe.JoinUnder(userDir, filename)
	if err != nil {
		s.metrics.RecordRawServe("bad_path")
		writeError(w, http.StatusBadRequest, "bad path")
		return
	}
	st, err := os.Stat(abs)
	if err != nil || !st.Mode().IsRegular() {
		s.metrics.RecordRawServe("not_found")
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		s.metrics.RecordRawServe("open_failed")
		writeError(w, http.StatusInternalServerError, "open failed")
		return
	}
	defer f.Close()

	if ct := contentTypeForName(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	s.metrics.RecordRawServe("ok")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// handleDav exposes a read-only WebDAV view of the caller's own directory.
func (s *Server) handleDav(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET", "HEAD", "OPTIONS", "PROPFIND":
	default:
		writeError(w, http.StatusForbidden, "read-only")
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	dir, err := s.saver.UserDir(id.Username)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad path")
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "mkdir failed")
		return
	}
	h := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(dir),
		LockSystem: s.davLocks,
	}
	h.ServeHTTP(w, r)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	// Scripts are served as plain text so loaders and browsers both cope.
	switch ext {
	case ".lua", ".txt":
		return "text/plain; charset=utf-8"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
