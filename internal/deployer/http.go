package deployer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	createTargetPath = "/api/1/target/create"
	deleteTargetPath = "/api/1/target/delete/"

	maxErrorBody = 512
)

// HTTPConfig configures a remote deployer endpoint.
type HTTPConfig struct {
	BaseURL     string
	Environment string
	Timeout     time.Duration
}

// HTTP manages targets through a remote deployer's REST API.
type HTTP struct {
	baseURL     string
	environment string
	client      *http.Client
	log         zerolog.Logger
}

type createTargetRequest struct {
	Environment  string `json:"env"`
	SiteName     string `json:"site_name"`
	Replace      bool   `json:"replace"`
	TemplateName string `json:"template_name"`
	SearchEngine string `json:"search_engine,omitempty"`
}

// NewHTTP returns a REST deployer client.
func NewHTTP(cfg HTTPConfig, logger zerolog.Logger) (*HTTP, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid deployer base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTP{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		environment: cfg.Environment,
		client:      &http.Client{Timeout: cfg.Timeout},
		log:         logger.With().Str("deployer", "http").Str("endpoint", cfg.BaseURL).Logger(),
	}, nil
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) CreateTargets(ctx context.Context, site, searchEngine string) error {
	body, err := json.Marshal(createTargetRequest{
		Environment:  h.environment,
		SiteName:     site,
		Replace:      true,
		TemplateName: "remote",
		SearchEngine: searchEngine,
	})
	if err != nil {
		return fmt.Errorf("encode create target request: %w", err)
	}
	if err := h.post(ctx, h.baseURL+createTargetPath, body); err != nil {
		return fmt.Errorf("create target for %s: %w", site, err)
	}
	h.log.Info().Str("site", site).Str("env", h.environment).Msg("target created")
	return nil
}

func (h *HTTP) DeleteTargets(ctx context.Context, site string) error {
	endpoint := h.baseURL + deleteTargetPath + url.PathEscape(h.environment) + "/" + url.PathEscape(site)
	if err := h.post(ctx, endpoint, nil); err != nil {
		return fmt.Errorf("delete target for %s: %w", site, err)
	}
	h.log.Info().Str("site", site).Str("env", h.environment).Msg("target deleted")
	return nil
}

func (h *HTTP) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("deployer returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
