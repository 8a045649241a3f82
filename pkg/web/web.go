// Package web serves a small authenticated file browser over the download
// and log directories and the ephemeral archives in the working directory.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// Root names as they appear in URLs.
const (
	RootDownloads = "downloads"
	RootLogs      = "logs"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = sync.OnceValue(func() *template.Template {
	return template.Must(template.New("").ParseFS(templatesFS, "templates/*.tmpl"))
})

// Options configures a Server.
type Options struct {
	Addr     string
	Username string
	Password string

	DownloadsDir  string
	LogsDir       string
	ArchiveDir    string
	ArchiveSuffix string

	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration

	// SecureCookie marks the session cookie Secure, for use behind TLS.
	SecureCookie bool

	Logger *logging.Logger
	Now    func() time.Time
}

// Server is the file browser.
type Server struct {
	opts     Options
	roots    map[string]string
	sessions *sessions
	log      *logging.Logger
	mux      *http.ServeMux
}

// New creates a Server. Both credentials are required.
func New(opts Options) (*Server, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("web username and password are required")
	}
	if opts.DownloadsDir == "" || opts.LogsDir == "" {
		return nil, errors.New("web roots are required")
	}
	if opts.ArchiveDir == "" {
		opts.ArchiveDir = "."
	}
	if opts.ArchiveSuffix == "" {
		opts.ArchiveSuffix = ".zip"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	s := &Server{
		opts: opts,
		roots: map[string]string{
			RootDownloads: opts.DownloadsDir,
			RootLogs:      opts.LogsDir,
		},
		sessions: newSessions(opts.SessionTTL, opts.Now),
		log:      log,
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	s.mux = http.NewServeMux()

	s.mux.HandleFunc("GET /login", s.handleLoginPage)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /logout", s.handleLogout)

	s.mux.Handle("GET /{$}", s.requireLogin(s.handleIndex))
	s.mux.Handle("GET /browse/{root}", s.requireLogin(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
	}))
	s.mux.Handle("GET /browse/{root}/{path...}", s.requireLogin(s.handleBrowse))
	s.mux.Handle("GET /files/{root}/{path...}", s.requireLogin(s.handleFile))
	s.mux.Handle("GET /archives/{name}", s.requireLogin(s.handleArchive))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type pageData struct {
	Title    string
	LoggedIn bool
	Error    string
	Sections []indexSection
	Crumbs   []crumb
	Entries  []entry
}

type indexSection struct {
	Name    string
	Href    string
	Entries []entry
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := templates().ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("rendering template failed", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) requireLogin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.valid(sessionID(r)) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.sessions.valid(sessionID(r)) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login.tmpl", pageData{Title: "Log in"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	if !credentialsMatch(username, r.PostFormValue("password"), s.opts.Username, s.opts.Password) {
		s.log.Warn("web login failed", "username", username, "remote", r.RemoteAddr)
		s.render(w, http.StatusUnauthorized, "login.tmpl", pageData{
			Title: "Log in",
			Error: "Invalid login credentials, please try again.",
		})
		return
	}

	id := s.sessions.create()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.opts.SessionTTL / time.Second),
	})
	s.log.Info("web login succeeded", "username", username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" {
		s.sessions.destroy(id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	s.log.Info("web logout")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Files", LoggedIn: true}

	for _, name := range []string{RootDownloads, RootLogs} {
		entries, err := listDir(s.roots[name], name, ".")
		if err != nil {
			s.log.Warn("listing root failed", "root", name, "error", err)
			entries = []entry{}
		}
		data.Sections = append(data.Sections, indexSection{
			Name:    name,
			Href:    joinURL("browse", name, "."),
			Entries: entries,
		})
	}

	archives, err := listArchives(s.opts.ArchiveDir, s.opts.ArchiveSuffix)
	if err != nil {
		s.log.Warn("listing archives failed", "error", err)
		archives = []entry{}
	}
	data.Sections = append(data.Sections, indexSection{Name: "archives", Href: "/", Entries: archives})

	s.render(w, http.StatusOK, "index.tmpl", data)
}

// resolve maps the {root} and {path...} wildcards to a root directory and
// a local relative path.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (name, dir, rel string, ok bool) {
	name = r.PathValue("root")
	dir, known := s.roots[name]
	if !known {
		http.NotFound(w, r)
		return "", "", "", false
	}
	rel, err := cleanRel(r.PathValue("path"))
	if err != nil {
		s.log.Warn("rejected path outside root", "root", name, "path", r.PathValue("path"))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return "", "", "", false
	}
	return name, dir, rel, true
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	name, dir, rel, ok := s.resolve(w, r)
	if !ok {
		return
	}

	entries, err := listDir(dir, name, rel)
	if errors.Is(err, errNotDir) {
		http.Redirect(w, r, joinURL("files", name, rel), http.StatusSeeOther)
		return
	}
	if err != nil {
		s.fail(w, r, "directory", name, rel, err)
		return
	}

	s.render(w, http.StatusOK, "browse.tmpl", pageData{
		Title:    path.Join(name, rel),
		LoggedIn: true,
		Crumbs:   crumbs(name, rel),
		Entries:  entries,
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name, dir, rel, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if rel == "." {
		http.Redirect(w, r, joinURL("browse", name, "."), http.StatusSeeOther)
		return
	}
	s.serveFrom(w, r, dir, rel, name)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("name")
	if !strings.HasSuffix(file, s.opts.ArchiveSuffix) || strings.ContainsAny(file, `/\`) || !isLocalName(file) {
		http.NotFound(w, r)
		return
	}
	s.serveFrom(w, r, s.opts.ArchiveDir, file, "archives")
}

func isLocalName(name string) bool {
	return name != "" && name != "." && name != ".." && path.Base(name) == name
}

// serveFrom serves the regular file rel inside dir. Directories redirect
// to their listing.
func (s *Server) serveFrom(w http.ResponseWriter, r *http.Request, dir, rel, rootName string) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		s.fail(w, r, "file", rootName, rel, err)
		return
	}
	defer func() { _ = root.Close() }()

	f, err := root.Open(rel)
	if err != nil {
		s.fail(w, r, "file", rootName, rel, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, "file", rootName, rel, err)
		return
	}
	if info.IsDir() {
		if _, known := s.roots[rootName]; known {
			http.Redirect(w, r, joinURL("browse", rootName, rel)+"/", http.StatusSeeOther)
			return
		}
		http.NotFound(w, r)
		return
	}
	if !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, kind, rootName, rel string, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Warn(kind+" not found", "root", rootName, "path", rel)
		http.Error(w, strings.ToUpper(kind[:1])+kind[1:]+" not found.", http.StatusNotFound)
	case escapesRoot(err):
		s.log.Warn("rejected path outside root", "root", rootName, "path", rel)
		http.Error(w, "Bad request", http.StatusBadRequest)
	default:
		s.log.Error("serving "+kind+" failed", "root", rootName, "path", rel, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// escapesRoot reports whether err is os.Root refusing a path, for example
// a symlink pointing outside the root. The error is not exported.
func escapesRoot(err error) bool {
	return strings.Contains(err.Error(), "path escapes from parent")
}
