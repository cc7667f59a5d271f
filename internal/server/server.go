package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/cluster"
	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/gitrepo"
	"github.com/user/go-pubsync/internal/interfaces"
	"github.com/user/go-pubsync/internal/publishsync"
	"github.com/user/go-pubsync/internal/sqlite"
	"github.com/user/go-pubsync/internal/storage"
)

// MemberStore persists cluster members.
type MemberStore interface {
	interfaces.MemberStorage
	DeleteMember(id string) error
}

// SiteStore manages the site catalog.
type SiteStore interface {
	interfaces.SiteService
	Create(ctx context.Context, site interfaces.Site) (interfaces.Site, error)
	SetPublishedRepoCreated(ctx context.Context, siteID string, created bool) error
}

// Syncer runs an on-demand published repository sync.
type Syncer interface {
	Sync(ctx context.Context, siteID string) (publishsync.Report, error)
}

// Deps are the collaborators behind the admin API.
type Deps struct {
	Members       MemberStore
	Sites         SiteStore
	Deployer      interfaces.Deployer
	Syncer        Syncer
	RemoteNames   cluster.RemoteNames
	PublishedPath string
}

// Server handles the admin HTTP API.
type Server struct {
	deps   Deps
	router *http.ServeMux
	http   *http.Server
	log    zerolog.Logger
}

// NewServer creates a new Server instance and sets up its routes.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		router: http.NewServeMux(),
		log:    logger.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	s.router.HandleFunc("POST /cluster-members", s.handleCreateMember())
	s.router.HandleFunc("GET /cluster-members", s.handleListMembers())
	s.router.HandleFunc("DELETE /cluster-members/{id}", s.handleDeleteMember())

	s.router.HandleFunc("POST /sites", s.handleCreateSite())
	s.router.HandleFunc("GET /sites", s.handleListSites())
	s.router.HandleFunc("PUT /sites/{site}/published", s.handleMarkPublished())
	s.router.HandleFunc("POST /sites/{site}/targets", s.handleCreateTargets())
	s.router.HandleFunc("DELETE /sites/{site}/targets", s.handleDeleteTargets())
	s.router.HandleFunc("POST /sites/{site}/sync", s.handleSync())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests on the given address. It
// returns once the listener goroutine is running.
func (s *Server) Start(address string) error {
	s.http = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", address).Msg("HTTP server starting")
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.log.Info().Msg("HTTP server stopping")
	return s.http.Shutdown(ctx)
}

type memberRequest struct {
	LocalAddress  string `json:"localAddress"`
	GitRemoteName string `json:"gitRemoteName"`
	GitURL        string `json:"gitUrl"`
	GitAuthType   string `json:"gitAuthType"`
	GitUsername   string `json:"gitUsername"`
	GitPassword   string `json:"gitPassword"`
	GitToken      string `json:"gitToken"`
	GitPrivateKey string `json:"gitPrivateKey"`
}

func (s *Server) handleCreateMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memberRequest
		if !s.decode(w, r, &req) {
			return
		}

		if req.LocalAddress == "" {
			s.fail(w, http.StatusBadRequest, "localAddress is required")
			return
		}
		if req.GitURL == "" {
			s.fail(w, http.StatusBadRequest, "gitUrl is required")
			return
		}
		if req.GitAuthType == "" {
			req.GitAuthType = interfaces.AuthNone
		}
		switch req.GitAuthType {
		case interfaces.AuthNone, interfaces.AuthBasic, interfaces.AuthToken, interfaces.AuthKey:
		default:
			s.fail(w, http.StatusBadRequest, fmt.Sprintf("unknown gitAuthType %q", req.GitAuthType))
			return
		}
		if req.GitRemoteName == "" {
			req.GitRemoteName = s.deps.RemoteNames.Default(req.LocalAddress)
		}

		member := interfaces.ClusterMember{
			ID:            uuid.NewString(),
			LocalAddress:  req.LocalAddress,
			GitRemoteName: req.GitRemoteName,
			GitURL:        req.GitURL,
			GitAuthType:   req.GitAuthType,
			GitUsername:   req.GitUsername,
			GitPassword:   req.GitPassword,
			GitToken:      req.GitToken,
			GitPrivateKey: req.GitPrivateKey,
		}
		if err := gitrepo.ValidateURL(member.RemoteURL("site", s.deps.PublishedPath)); err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Sprintf("gitUrl: %v", err))
			return
		}

		if err := s.deps.Members.SaveMember(member); err != nil {
			s.log.Error().Err(err).Str("member", member.ID).Msg("failed to save cluster member")
			s.fail(w, http.StatusInternalServerError, "failed to save cluster member")
			return
		}
		s.log.Info().Str("member", member.ID).Str("remote", member.GitRemoteName).Msg("cluster member registered")

		s.respond(w, http.StatusCreated, map[string]string{
			"id":            member.ID,
			"gitRemoteName": member.GitRemoteName,
		})
	}
}

func (s *Server) handleListMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := s.deps.Members.LoadMembers()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to load cluster members")
			s.fail(w, http.StatusInternalServerError, "failed to load cluster members")
			return
		}
		out := make([]interfaces.ClusterMember, 0, len(members))
		for _, m := range members {
			m.GitPassword, m.GitToken, m.GitPrivateKey = "", "", ""
			out = append(out, m)
		}
		s.respond(w, http.StatusOK, out)
	}
}

func (s *Server) handleDeleteMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.deps.Members.DeleteMember(id); err != nil {
			if errors.Is(err, storage.ErrMemberNotFound) {
				s.fail(w, http.StatusNotFound, "cluster member not found")
				return
			}
			s.log.Error().Err(err).Str("member", id).Msg("failed to delete cluster member")
			s.fail(w, http.StatusInternalServerError, "failed to delete cluster member")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type siteRequest struct {
	ID                   string `json:"id"`
	UUID                 string `json:"uuid"`
	SandboxBranch        string `json:"sandboxBranch"`
	PublishedRepoCreated bool   `json:"publishedRepoCreated"`
	LiveEnvironment      string `json:"liveEnvironment"`
	StagingEnvironment   string `json:"stagingEnvironment"`
	StagingEnabled       bool   `json:"stagingEnabled"`
}

func (s *Server) handleCreateSite() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req siteRequest
		if !s.decode(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ID) == "" {
			s.fail(w, http.StatusBadRequest, "id is required")
			return
		}
		if req.UUID == "" {
			req.UUID = uuid.NewString()
		} else if _, err := uuid.Parse(req.UUID); err != nil {
			s.fail(w, http.StatusBadRequest, "uuid must be a valid UUID")
			return
		}

		site, err := s.deps.Sites.Create(r.Context(), interfaces.Site{
			ID:                   req.ID,
			UUID:                 req.UUID,
			SandboxBranch:        req.SandboxBranch,
			PublishedRepoCreated: req.PublishedRepoCreated,
			LiveEnvironment:      req.LiveEnvironment,
			StagingEnvironment:   req.StagingEnvironment,
			StagingEnabled:       req.StagingEnabled,
		})
		if err != nil {
			if errors.Is(err, sqlite.ErrSiteExists) {
				s.fail(w, http.StatusConflict, "site already exists")
				return
			}
			s.log.Error().Err(err).Str("site", req.ID).Msg("failed to create site")
			s.fail(w, http.StatusInternalServerError, "failed to create site")
			return
		}
		s.respond(w, http.StatusCreated, site)
	}
}

func (s *Server) handleListSites() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := s.deps.Sites.ListSites(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("failed to list sites")
			s.fail(w, http.StatusInternalServerError, "failed to list sites")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		s.respond(w, http.StatusOK, ids)
	}
}

func (s *Server) handleMarkPublished() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site := r.PathValue("site")
		if err := s.deps.Sites.SetPublishedRepoCreated(r.Context(), site, true); err != nil {
			s.failErr(w, site, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type targetRequest struct {
	SearchEngine string `json:"searchEngine"`
}

func (s *Server) handleCreateTargets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site := r.PathValue("site")
		var req targetRequest
		if r.ContentLength != 0 && !s.decode(w, r, &req) {
			return
		}
		if err := s.deps.Deployer.CreateTargets(r.Context(), site, req.SearchEngine); err != nil {
			s.log.Error().Err(err).Str("site", site).Msg("failed to create deployment targets")
			s.fail(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respond(w, http.StatusCreated, map[string]string{"site": site, "message": "targets created"})
	}
}

func (s *Server) handleDeleteTargets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site := r.PathValue("site")
		if err := s.deps.Deployer.DeleteTargets(r.Context(), site); err != nil {
			s.log.Error().Err(err).Str("site", site).Msg("failed to delete deployment targets")
			s.fail(w, http.StatusBadGateway, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site := r.PathValue("site")
		report, err := s.deps.Syncer.Sync(r.Context(), site)
		if err != nil {
			s.failErr(w, site, err)
			return
		}
		s.respond(w, http.StatusOK, report)
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// failErr maps a kind-tagged error to a status code.
func (s *Server) failErr(w http.ResponseWriter, site string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, publishsync.ErrSiteBusy):
		status = http.StatusConflict
	case errs.Is(err, errs.KindSiteNotFound):
		status = http.StatusNotFound
	case errs.Is(err, errs.KindInvalidRemoteURL):
		status = http.StatusBadRequest
	}
	s.log.Error().Err(err).Str("site", site).Str("kind", string(errs.KindOf(err))).Msg("request failed")
	s.respond(w, status, map[string]string{"error": err.Error(), "kind": string(errs.KindOf(err))})
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}
