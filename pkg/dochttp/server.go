// Package dochttp is the thin HTTP/WebSocket surface that drives
// pkg/doccore.Core. spec.md frames the wire-level transport as out of
// core scope; this package is the minimal demonstration of that
// boundary, following the teacher's HealthServer pattern
// (pkg/api/health.go: a struct wrapping one *http.ServeMux, endpoints
// registered in the constructor, Start binds an *http.Server with
// explicit timeouts).
package dochttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/scribe/pkg/docconn/wstransport"
	"github.com/cuemby/scribe/pkg/doccore"
	"github.com/cuemby/scribe/pkg/docstore"
	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/metrics"
	"github.com/cuemby/scribe/pkg/scerr"
	"github.com/cuemby/scribe/pkg/types"
	"github.com/gorilla/websocket"
)

// Server wraps a doccore.Core with the HTTP routes a real collaborator
// client needs: connection upgrade, document lifecycle, and asset
// presigning.
type Server struct {
	core     *doccore.Core
	local    *docstore.LocalProvider // non-nil only when the local backend is in use
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewServer builds a Server over core. local is the same Capability
// passed to doccore.New, asserted down to *docstore.LocalProvider so
// /local-blob can be registered; pass nil when running against S3.
func NewServer(core *doccore.Core, local *docstore.LocalProvider) *Server {
	s := &Server{
		core:  core,
		local: local,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The reference client is expected to be a browser or a
			// trusted first-party app; spec.md leaves origin policy to
			// the out-of-scope HTTP surface, so it is accepted wide open
			// here rather than invented.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /docs", s.handleCreateDoc)
	s.mux.HandleFunc("GET /docs/{docID}/exists", s.handleDocExists)
	s.mux.HandleFunc("DELETE /docs/{docID}", s.handleDeleteDoc)
	s.mux.HandleFunc("POST /docs/copy", s.handleCopyDoc)
	s.mux.HandleFunc("GET /docs/{docID}/connect", s.handleConnect)
	s.mux.HandleFunc("GET /docs/{docID}/assets", s.handleListAssets)
	s.mux.HandleFunc("POST /docs/{docID}/assets/presign", s.handlePresignAsset)

	if s.local != nil {
		s.mux.HandleFunc("GET /local-blob", s.handleLocalBlobGet)
		s.mux.HandleFunc("PUT /local-blob", s.handleLocalBlobPut)
	}

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/ready", metrics.ReadyHandler())
	s.mux.Handle("/live", metrics.LivenessHandler())
}

// Start runs the HTTP server on addr until ctx is cancelled, then
// shuts it down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // long-lived websocket connections
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type createDocRequest struct {
	DocID string `json:"docId"`
}

type createDocResponse struct {
	DocID string `json:"docId"`
}

func (s *Server) handleCreateDoc(w http.ResponseWriter, r *http.Request) {
	var req createDocRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, scerr.New(scerr.InvalidInput, "handleCreateDoc", err))
			return
		}
	}

	docID, err := s.core.CreateDoc(r.Context(), types.DocID(req.DocID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createDocResponse{DocID: docID.String()})
}

func (s *Server) handleDocExists(w http.ResponseWriter, r *http.Request) {
	docID := types.DocID(r.PathValue("docID"))
	exists, err := s.core.DocExists(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	docID := types.DocID(r.PathValue("docID"))
	result, err := s.core.DeleteDocument(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Existed {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type copyDocRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (s *Server) handleCopyDoc(w http.ResponseWriter, r *http.Request) {
	var req copyDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scerr.New(scerr.InvalidInput, "handleCopyDoc", err))
		return
	}
	if err := s.core.CopyDocument(r.Context(), types.DocID(req.Src), types.DocID(req.Dst)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect upgrades to a websocket and drives the connection until
// it closes. The authorization level is carried as a query parameter;
// a real deployment would derive it from a signed token instead
// (spec.md leaves token verification itself out of core scope).
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	docID := types.DocID(r.PathValue("docID"))
	authz := types.Authorization(r.URL.Query().Get("authz"))
	if authz != types.AuthFull && authz != types.AuthReadOnly {
		authz = types.AuthReadOnly
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("dochttp").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	transport := wstransport.New(wsConn)

	conn, err := s.core.OpenConnection(r.Context(), docID, authz, transport)
	if err != nil {
		log.WithComponent("dochttp").Warn().Err(err).Str("doc_id", docID.String()).Msg("open_connection rejected")
		_ = transport.Close()
		return
	}

	if err := conn.Run(r.Context()); err != nil {
		log.WithConnID(conn.ID).Debug().Err(err).Msg("connection closed")
	}
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	docID := types.DocID(r.PathValue("docID"))
	assets, err := s.core.ListAssets(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

type presignAssetRequest struct {
	ContentType string `json:"contentType"`
}

type presignAssetResponse struct {
	AssetID     string `json:"assetId"`
	UploadURL   string `json:"uploadUrl"`
	ContentType string `json:"contentType"`
}

func (s *Server) handlePresignAsset(w http.ResponseWriter, r *http.Request) {
	docID := types.DocID(r.PathValue("docID"))
	var req presignAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scerr.New(scerr.InvalidInput, "handlePresignAsset", err))
		return
	}

	assetID, uploadURL, err := s.core.PresignUploadAsset(r.Context(), docID, req.ContentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presignAssetResponse{
		AssetID:     assetID.Filename(),
		UploadURL:   uploadURL,
		ContentType: req.ContentType,
	})
}

// handleLocalBlobGet/Put serve the presigned URLs LocalProvider mints,
// per docstore/local.go's VerifyToken doc comment: "the (out-of-core)
// HTTP surface calls this before serving a GET/PUT against /local-blob".
func (s *Server) handleLocalBlobGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	token := r.URL.Query().Get("token")
	if err := s.local.VerifyToken(key, token); err != nil {
		http.Error(w, "invalid or expired token", http.StatusForbidden)
		return
	}

	data, ok, err := s.local.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleLocalBlobPut(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	token := r.URL.Query().Get("token")
	if err := s.local.VerifyToken(key, token); err != nil {
		http.Error(w, "invalid or expired token", http.StatusForbidden)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, scerr.New(scerr.InvalidInput, "handleLocalBlobPut", err))
		return
	}
	if err := s.local.Put(r.Context(), key, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps a scerr.Kind to the HTTP status the client sees,
// per spec.md §7 ("every error crossing a component boundary is
// classifiable so the HTTP surface can map it without inspecting
// error strings").
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch scerr.KindOf(err) {
	case scerr.NotFound:
		status = http.StatusNotFound
	case scerr.Unauthorized:
		status = http.StatusUnauthorized
	case scerr.Forbidden:
		status = http.StatusForbidden
	case scerr.InvalidInput:
		status = http.StatusBadRequest
	case scerr.StoreTransient:
		status = http.StatusServiceUnavailable
	case scerr.StorePermanent, scerr.Internal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
