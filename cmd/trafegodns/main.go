// Package main provides the entry point for trafegodns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/trafegodns/trafegodns/internal/api"
	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/ipresolver"
	"github.com/trafegodns/trafegodns/internal/metrics"
	"github.com/trafegodns/trafegodns/internal/ownership"
	"github.com/trafegodns/trafegodns/internal/policy"
	"github.com/trafegodns/trafegodns/internal/poller"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/provider/cloudflare"
	"github.com/trafegodns/trafegodns/internal/provider/digitalocean"
	"github.com/trafegodns/trafegodns/internal/provider/pihole"
	"github.com/trafegodns/trafegodns/internal/provider/route53"
	"github.com/trafegodns/trafegodns/internal/provider/unifi"
	"github.com/trafegodns/trafegodns/internal/reconciler"
	"github.com/trafegodns/trafegodns/internal/tunnel"
	"github.com/trafegodns/trafegodns/internal/types"
	"github.com/trafegodns/trafegodns/internal/version"
	"github.com/trafegodns/trafegodns/pkg/labels"
)

func main() {
	configPath := flag.StringP("config", "c", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trafegodns %s\n", version.Version)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "3:04:05PM",
		})
	}

	log.Info().
		Str("version", version.Version).
		Str("mode", string(cfg.Mode)).
		Msg("Starting trafegodns")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Runtime error")
		os.Exit(1)
	}

	log.Info().Msg("TrafegoDNS stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics.SetBuildInfo(version.Version)

	ledger, err := ownership.NewSQLiteLedger(filepath.Join(cfg.DataDir, "ownership", "trafegodns.db"))
	if err != nil {
		return err
	}
	defer ledger.Close()
	if err := ledger.Initialize(ctx); err != nil {
		return err
	}
	log.Info().Str("dataDir", cfg.DataDir).Msg("Ownership ledger initialized")

	policyStore, err := policy.NewStore(filepath.Join(cfg.DataDir, "policy"))
	if err != nil {
		return err
	}

	bus := events.NewBus()
	settings, err := api.NewPersistentSettings(
		filepath.Join(cfg.DataDir, "config", "app.json"),
		cfg.CleanupOrphaned, types.OperationMode(cfg.Mode))
	if err != nil {
		return err
	}

	resolver := ipresolver.New(cfg.IPResolver.CacheTTL,
		ipresolver.WithStaticIPs(cfg.IPResolver.StaticIPv4, cfg.IPResolver.StaticIPv6))
	defer resolver.Close()

	registry := provider.NewRegistry()
	if err := buildAdapters(ctx, cfg, registry); err != nil {
		return err
	}

	// Tunnel ingress reconciliation rides on the Cloudflare adapter's client.
	var tunnelRec *tunnel.Reconciler
	if cfg.Tunnel.Enabled {
		adapter, ok := registry.Get("cloudflare")
		if !ok {
			return fmt.Errorf("tunnel.enabled requires a configured cloudflare provider")
		}
		cf, ok := adapter.(*cloudflare.Adapter)
		if !ok || cf.AccountID() == "" {
			return fmt.Errorf("tunnel.enabled requires providers.cloudflare.account_id")
		}
		tunnelRec = tunnel.New(tunnel.Options{
			Client:      tunnel.NewCloudflareConfigClient(cf.API(), cf.AccountID()),
			TunnelID:    cfg.Tunnel.TunnelID,
			Ledger:      ledger,
			Policy:      policyStore,
			Bus:         bus,
			LabelPrefix: cfg.LabelPrefix,
			APITimeout:  cfg.APITimeout,
		})
		log.Info().Str("tunnelId", cfg.Tunnel.TunnelID).Msg("Tunnel ingress reconciliation enabled")
	}

	defaults := labels.Defaults{
		RecordType: types.RecordType(cfg.Defaults.RecordType),
		TTL:        cfg.Defaults.TTL,
		Proxied:    cfg.Defaults.Proxied,
		Content:    cfg.Defaults.Content,
	}

	reconcilers := make([]*reconciler.Reconciler, 0)
	for _, adapter := range registry.All() {
		opts := reconciler.Options{
			Adapter:         adapter,
			Ledger:          ledger,
			Policy:          policyStore,
			Resolver:        resolver,
			Bus:             bus,
			LabelPrefix:     cfg.LabelPrefix,
			Defaults:        defaults,
			APITimeout:      cfg.APITimeout,
			CleanupOrphaned: settings.CleanupEnabled,
		}
		if tunnelRec != nil && adapter.Name() == "cloudflare" {
			opts.Companion = tunnelRec.CompanionRecords
		}
		reconcilers = append(reconcilers, reconciler.New(opts))
	}

	// A persisted mode switch from a previous run wins over the static config.
	mode := settings.Mode()

	dockerSource := poller.NewDockerSource(cfg.Docker)
	if err := dockerSource.Connect(ctx); err != nil {
		if mode == types.ModeDirect {
			return fmt.Errorf("docker connect: %w", err)
		}
		log.Warn().Err(err).Msg("Docker unavailable, direct mode disabled until restart")
		dockerSource = nil
	} else {
		defer dockerSource.Close()
		log.Info().Str("endpoint", cfg.Docker.Endpoint).Msg("Docker connected")
	}
	traefikSource := poller.NewTraefikSource(cfg.Traefik)

	var source poller.Source
	topic := events.TopicRoutersUpdated
	if mode == types.ModeDirect {
		source = dockerSource
		topic = events.TopicLabelsUpdated
	} else {
		source = traefikSource
	}
	p := poller.New(source, bus, cfg.PollInterval, topic)

	engine := reconciler.NewEngine(p, reconcilers, bus, cfg.PollInterval)

	// Mode switches from the API swap the polled source in place.
	unsubMode := bus.Subscribe(events.TopicModeChanged, func(events.Event) {
		switch settings.Mode() {
		case types.ModeDirect:
			if dockerSource == nil {
				log.Error().Msg("Cannot switch to direct mode, docker is unavailable")
				return
			}
			p.SwapSource(dockerSource)
		case types.ModeTraefik:
			p.SwapSource(traefikSource)
		}
	})
	defer unsubMode()

	// Docker container events collapse into an immediate poll.
	if dockerSource != nil {
		containerEvents := make(chan types.ContainerEvent, 16)
		go func() {
			if err := dockerSource.Watch(ctx, containerEvents); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Docker event stream ended, falling back to polling")
			}
		}()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-containerEvents:
					log.Debug().
						Str("action", ev.Action).
						Str("containerId", ev.ContainerID).
						Msg("Container event")
					p.Trigger()
				}
			}
		}()
	}

	if tunnelRec != nil {
		go runTunnelLoop(ctx, tunnelRec, engine, p, bus, cfg)
	}

	if cfg.Api.Enabled {
		ledgerScopes := []string{}
		if tunnelRec != nil {
			ledgerScopes = append(ledgerScopes, tunnel.LedgerProvider)
		}
		apiServer := api.NewServer(&api.Config{
			Address:      cfg.Api.Address,
			Token:        cfg.Api.Token,
			Version:      version.Version,
			Registry:     registry,
			Ledger:       ledger,
			Policy:       policyStore,
			Bus:          bus,
			Engine:       engine,
			Settings:     settings,
			PublicIP:     resolver.PublicIPv4,
			LedgerScopes: ledgerScopes,
		})
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	go func() {
		if err := p.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Source poller error")
		}
	}()

	return engine.Run(ctx)
}

// runTunnelLoop reconciles the tunnel ingress on snapshot changes and on the
// poll interval. A deployed change triggers the DNS engine so the companion
// CNAMEs follow in the same breath.
func runTunnelLoop(ctx context.Context, rec *tunnel.Reconciler, engine *reconciler.Engine, p *poller.Poller, bus *events.Bus, cfg *config.Config) {
	trigger := make(chan struct{}, 1)
	kick := func(events.Event) {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	unsubLabels := bus.Subscribe(events.TopicLabelsUpdated, kick)
	defer unsubLabels()
	unsubRouters := bus.Subscribe(events.TopicRoutersUpdated, kick)
	defer unsubRouters()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	cycle := func() {
		report, err := rec.ReconcileOnce(ctx, p.Snapshot())
		if err != nil {
			return
		}
		if report.Deployed {
			engine.Trigger()
		}
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			cycle()
		case <-ticker.C:
			cycle()
		}
	}
}

// buildAdapters registers every provider that carries credentials.
func buildAdapters(ctx context.Context, cfg *config.Config, registry *provider.Registry) error {
	horizon := cfg.CacheRefreshInterval

	candidates := make([]provider.Adapter, 0, 5)
	if cfg.Providers.Cloudflare.APIToken != "" {
		candidates = append(candidates, cloudflare.New(cfg.Providers.Cloudflare, horizon))
	}
	if cfg.Providers.Route53.Zone != "" || cfg.Providers.Route53.ZoneID != "" {
		candidates = append(candidates, route53.New(cfg.Providers.Route53, horizon))
	}
	if cfg.Providers.DigitalOcean.Token != "" {
		candidates = append(candidates, digitalocean.New(cfg.Providers.DigitalOcean, horizon))
	}
	if cfg.Providers.Pihole.URL != "" {
		candidates = append(candidates, pihole.New(cfg.Providers.Pihole, horizon))
	}
	if cfg.Providers.Unifi.URL != "" {
		candidates = append(candidates, unifi.New(cfg.Providers.Unifi, horizon))
	}

	for _, adapter := range candidates {
		initCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
		err := adapter.Init(initCtx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("provider", adapter.Name()).Msg("Provider init failed, skipping")
			continue
		}

		connCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
		err = adapter.TestConnection(connCtx)
		cancel()
		if err != nil {
			// Registered anyway; the reconciler degrades and retries.
			log.Warn().Err(err).Str("provider", adapter.Name()).Msg("Provider connection test failed")
		}

		if err := registry.Register(adapter); err != nil {
			return err
		}
		log.Info().
			Str("provider", adapter.Name()).
			Str("zone", adapter.Zone()).
			Msg("Provider registered")
	}

	if len(registry.All()) == 0 {
		return fmt.Errorf("no DNS providers configured")
	}
	return nil
}
