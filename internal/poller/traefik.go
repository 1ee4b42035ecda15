package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// TraefikSource polls the Traefik API for HTTP routers.
type TraefikSource struct {
	apiURL   string
	username string
	password string
	client   *http.Client
}

// NewTraefikSource creates a source reading from the Traefik API.
func NewTraefikSource(cfg config.TraefikConfig) *TraefikSource {
	return &TraefikSource{
		apiURL:   strings.TrimSuffix(cfg.APIURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *TraefikSource) Name() string { return "traefik" }

// routerDTO is the subset of the Traefik router descriptor the engine needs.
type routerDTO struct {
	Name    string `json:"name"`
	Rule    string `json:"rule"`
	Service string `json:"service"`
	Status  string `json:"status"`
}

// Fetch reads /api/http/routers and keeps enabled routers with a rule.
func (s *TraefikSource) Fetch(ctx context.Context) (types.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/api/http/routers", nil)
	if err != nil {
		return types.Snapshot{}, err
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("traefik api: %v: %w", err, provider.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.Snapshot{}, fmt.Errorf("traefik api: status %d: %w", resp.StatusCode, provider.ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Snapshot{}, fmt.Errorf("traefik api: status %d: %s: %w", resp.StatusCode, body, provider.ErrTransient)
	}

	var routers []routerDTO
	if err := json.NewDecoder(resp.Body).Decode(&routers); err != nil {
		return types.Snapshot{}, fmt.Errorf("traefik api: decode: %w", err)
	}

	snapshot := types.Snapshot{Mode: types.ModeTraefik}
	for _, r := range routers {
		if r.Rule == "" {
			continue
		}
		if r.Status != "" && r.Status != "enabled" {
			continue
		}
		snapshot.Routers = append(snapshot.Routers, types.RouterInput{
			Name:    r.Name,
			Rule:    r.Rule,
			Service: r.Service,
		})
	}
	return snapshot, nil
}
