package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/smileynet/gpufleet/internal/announce"
	"github.com/smileynet/gpufleet/internal/config"
	"github.com/smileynet/gpufleet/internal/fetcher"
	"github.com/smileynet/gpufleet/internal/flatcache"
	"github.com/smileynet/gpufleet/internal/inventory"
	"github.com/smileynet/gpufleet/internal/kube"
	"github.com/smileynet/gpufleet/internal/logging"
	"github.com/smileynet/gpufleet/internal/oci"
	"github.com/smileynet/gpufleet/internal/resolve"
)

// announcementDir is the detail cache directory under the cache dir.
const announcementDir = "announcements"

// cloudAPI is what commands need from the cloud provider.
type cloudAPI interface {
	inventory.Cloud
	announce.DetailFetcher
}

// backend holds the upstream clients. Either may be nil: cloud when the
// command runs offline, nodes when no kubeconfig resolves.
type backend struct {
	cloud cloudAPI
	nodes inventory.Nodes
}

// newBackend builds the oci CLI client and, when a kubeconfig resolves, the
// Kubernetes client. Tests replace it.
var newBackend = func(cfg *config.Config, offline bool, log *zap.Logger) (backend, error) {
	var b backend
	if !offline {
		if err := cfg.RequireCompartment(); err != nil {
			return b, err
		}
		cc := oci.CommandConfig{
			Binary:     cfg.OCI.Binary,
			Profile:    cfg.OCI.Profile,
			Region:     cfg.OCI.Region,
			ConfigFile: cfg.OCI.ConfigFile,
		}
		if cfg.OCI.Auth != "" {
			cc.ExtraFlags = []string{"--auth", cfg.OCI.Auth}
		}
		runner := oci.NewRunner(cc, oci.WithTimeout(cfg.OCI.Timeout))
		b.cloud = oci.NewClient(runner, cfg.OCI.CompartmentID, cfg.OCI.TenancyID)
	}

	nodes, err := kube.NewClientFromKubeconfig(cfg.Kube.Kubeconfig, cfg.Kube.Context,
		kube.WithGPUResource(cfg.Kube.GPUResource))
	if err != nil {
		log.Debug("kubernetes client unavailable, node state disabled", zap.Error(err))
		return b, nil
	}
	b.nodes = nodes
	return b, nil
}

// app is the wired engine for one command invocation.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *flatcache.Store
	exec    *fetcher.Executor
	backend backend

	inv *inventory.Manager
	ann *announce.Builder
}

// loadConfig loads layered config, or the --config-file alone, then applies
// env and flag overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	paths := config.DefaultPaths()
	if g.ConfigFile != "" {
		paths = []string{g.ConfigFile}
	}
	cfg, err := config.LoadLayered(paths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open wires config, logging, the cache store and the upstream clients.
// Offline commands get no cloud client.
func (g *Globals) open(offline bool) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, g.stderr())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	b, err := newBackend(cfg, offline, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   flatcache.NewStore(cfg.Cache.Dir),
		exec:    fetcher.NewExecutor(fetcher.WithWorkers(cfg.Cache.Workers)),
		backend: b,
	}
	a.inv = a.manager()
	a.ann = a.announcer()
	return a, nil
}

// manager builds an inventory manager over the app's store and clients.
func (a *app) manager(extra ...inventory.Option) *inventory.Manager {
	opts := []inventory.Option{
		inventory.WithLogger(a.log),
		inventory.WithExecutor(a.exec),
		inventory.WithTTL(a.cfg.Cache.TTL),
		inventory.WithNodeStateTTL(a.cfg.Cache.NodeStateTTL),
		inventory.WithStatusCallback(func(rep inventory.Report) {
			a.log.Debug("kind refreshed", logFields(rep)...)
		}),
	}
	if a.backend.nodes != nil {
		opts = append(opts, inventory.WithNodes(a.backend.nodes))
	}
	var cloud inventory.Cloud
	if a.backend.cloud != nil {
		cloud = a.backend.cloud
	}
	return inventory.New(a.store, cloud, append(opts, extra...)...)
}

// announcer builds an announcement lookup builder storing details under the
// cache dir.
func (a *app) announcer(extra ...announce.Option) *announce.Builder {
	opts := []announce.Option{
		announce.WithExecutor(a.exec),
		announce.WithLogger(a.log),
	}
	var details announce.DetailFetcher
	if a.backend.cloud != nil {
		details = a.backend.cloud
	}
	dir := filepath.Join(a.cfg.Cache.Dir, announcementDir)
	return announce.NewBuilder(details, dir, append(opts, extra...)...)
}

// resolve loads every kind, indexes active announcements and joins them.
// Kinds that could not be loaded are reported, not returned as errors.
func (a *app) resolve(ctx context.Context) (*resolve.Resolver, []inventory.Report, announce.Stats) {
	snap, reports := a.inv.Snapshot(ctx)
	lookup, st, err := a.ann.Build(ctx, summaries(snap.Announcements))
	if err != nil {
		a.log.Warn("announcement lookup unavailable", zap.Error(err))
		lookup = announce.NewLookup()
	}
	a.log.Debug("announcements indexed",
		zap.Int("listed", st.Listed),
		zap.Int("fetched", st.Fetched),
		zap.Int("skipped", st.Skipped),
		zap.Int("failed", st.Failed),
		zap.Int("active", st.Active),
	)
	return resolve.Build(snap, lookup), reports, st
}

// logFields renders a refresh report as structured fields.
func logFields(rep inventory.Report) []zap.Field {
	fields := []zap.Field{
		zap.String("kind", rep.Kind),
		zap.Stringer("outcome", rep.Outcome),
		zap.Int("records", rep.Records),
	}
	if rep.FailedDetails > 0 {
		fields = append(fields, zap.Int("failed_details", rep.FailedDetails))
	}
	if rep.Err != nil {
		fields = append(fields, zap.Error(rep.Err))
	}
	return fields
}
