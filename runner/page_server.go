package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// ErrUnknownContentType is returned for assets whose extension has no known
// content type.
var ErrUnknownContentType = errors.New("unknown content type")

var contentTypes = map[string]string{
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".css":  "text/css",
	".json": "application/json",
	".txt":  "text/plain",
	".map":  "application/json",
	".html": "text/html",
	".wasm": "application/wasm",
	".svg":  "image/svg+xml",
}

// ContentType returns the content type served for name.
func ContentType(name string) (string, error) {
	ext := path.Ext(name)
	if ct, ok := contentTypes[ext]; ok {
		return ct, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContentType, ext)
}

// PageContext is everything served for one suite run in the browser.
type PageContext struct {
	ID           string
	Files        map[string][]byte
	MainURL      string
	MainIsModule bool
	// ExpectURL is the asset defining globalThis.expect, if any.
	ExpectURL string
}

// NewPageContext returns an empty context with a fresh id.
func NewPageContext() *PageContext {
	return &PageContext{
		ID:      uuid.NewString(),
		Files:   make(map[string][]byte),
		MainURL: DefaultEntryURL,
	}
}

// PageServer serves harness pages and bundled assets on a loopback port.
type PageServer struct {
	log log.Logger

	mu     sync.RWMutex
	pages  map[string]*PageContext
	errors map[string][]error

	listener net.Listener
	server   *http.Server
}

// NewPageServer creates a server. Call Start before use.
func NewPageServer(logger log.Logger) *PageServer {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided to page server, using default")
	}
	return &PageServer{
		log:    logger,
		pages:  make(map[string]*PageContext),
		errors: make(map[string][]error),
	}
}

// Start listens on an ephemeral loopback port.
func (s *PageServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("starting page server: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Page server stopped", "err", err)
		}
	}()
	s.log.Debug("Page server listening", "addr", listener.Addr().String())
	return nil
}

// URL returns the harness page address for a page id.
func (s *PageServer) URL(id string) string {
	return fmt.Sprintf("http://%s/%s/", s.listener.Addr().String(), id)
}

// Register makes a page context reachable.
func (s *PageServer) Register(page *PageContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.ID] = page
}

// Unregister removes a page context and returns the errors recorded while
// serving it.
func (s *PageServer) Unregister(id string) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := s.errors[id]
	delete(s.pages, id)
	delete(s.errors, id)
	return errs
}

func (s *PageServer) recordError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[id]; ok {
		s.errors[id] = append(s.errors[id], err)
	}
}

func (s *PageServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		w.WriteHeader(http.StatusOK)
		return
	}

	id, subPath, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	s.mu.RLock()
	page := s.pages[id]
	s.mu.RUnlock()
	if !ok || page == nil {
		s.log.Warn("Unexpected request", "method", r.Method, "url", r.URL.String())
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	subPath = "/" + subPath

	if subPath == "/" {
		body, err := RenderHarnessPage(page)
		if err != nil {
			s.recordError(id, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
		return
	}

	contents, found := page.Files[subPath]
	if !found {
		s.log.Warn("Unexpected request", "method", r.Method, "url", r.URL.String())
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	contentType, err := ContentType(subPath)
	if err != nil {
		s.log.Error("Cannot serve asset", "path", subPath, "err", err)
		s.recordError(id, fmt.Errorf("serving %s: %w", subPath, err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(contents)
}

// Close stops the server.
func (s *PageServer) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
