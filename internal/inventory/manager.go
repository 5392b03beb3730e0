// Package inventory keeps one flat-file cache per GPU fleet resource kind
// and refreshes each from the cloud provider or Kubernetes when it goes stale.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/smileynet/gpufleet/internal/fetcher"
	"github.com/smileynet/gpufleet/internal/flatcache"
	"github.com/smileynet/gpufleet/internal/kube"
	"github.com/smileynet/gpufleet/internal/oci"
)

// DefaultNodeStateTTL is the freshness window of the node state cache.
// Node readiness changes faster than cloud inventory.
const DefaultNodeStateTTL = 5 * time.Minute

// ErrNoData indicates a refresh failed and no previously cached data exists.
var ErrNoData = errors.New("inventory: no data available")

var errNoNodes = errors.New("inventory: no Kubernetes client configured")

// Cloud is the provider API the manager reads from.
// Satisfied by *oci.Client.
type Cloud interface {
	ListGPUMemoryFabrics(ctx context.Context) ([]oci.GPUMemoryFabric, error)
	ListGPUMemoryClusters(ctx context.Context) ([]oci.GPUMemoryCluster, error)
	GetGPUMemoryCluster(ctx context.Context, id string) (oci.GPUMemoryCluster, error)
	ListGPUMemoryClusterInstances(ctx context.Context, clusterID string) ([]oci.GPUMemoryClusterInstance, error)
	ListInstanceConfigurations(ctx context.Context) ([]oci.InstanceConfiguration, error)
	ListComputeClusters(ctx context.Context) ([]oci.ComputeCluster, error)
	ListInstances(ctx context.Context) ([]oci.Instance, error)
	ListCapacityTopologies(ctx context.Context) ([]oci.CapacityTopology, error)
	ListBareMetalHosts(ctx context.Context, topologyID string) ([]oci.BareMetalHost, error)
	ListAnnouncements(ctx context.Context) ([]oci.AnnouncementSummary, error)
	ListGateways(ctx context.Context, gwType string) ([]oci.Gateway, error)
	ResizeGPUMemoryCluster(ctx context.Context, id string, size int) error
}

// Nodes is the Kubernetes API the manager reads node state from.
// Satisfied by *kube.Client.
type Nodes interface {
	ListNodeStates(ctx context.Context) ([]kube.NodeState, error)
	SetUnschedulable(ctx context.Context, node string, unschedulable bool) error
}

// Outcome describes how a refresh was served.
type Outcome int

const (
	// OutcomeHit means the cache was fresh; no upstream call was made.
	OutcomeHit Outcome = iota
	// OutcomeRefreshed means fresh data was fetched and written.
	OutcomeRefreshed
	// OutcomeStale means the fetch failed and the previous data was returned.
	OutcomeStale
	// OutcomeMissing means the fetch failed and nothing was cached before.
	OutcomeMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "cached"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeStale:
		return "stale"
	case OutcomeMissing:
		return "missing"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Report summarizes one kind's refresh.
type Report struct {
	Kind    string
	Outcome Outcome
	Records int
	// FailedDetails counts per-item detail fetches that failed; those items
	// are absent from the written collection.
	FailedDetails int
	// Err is the upstream error behind a stale or missing outcome.
	Err error
}

// StatusCallback receives a Report after each kind is refreshed.
type StatusCallback func(Report)

// ProgressCallback observes detail fetch progress for one kind.
type ProgressCallback func(kind string, done, total int)

// Manager owns the per-kind caches and their refresh routines.
type Manager struct {
	store    *flatcache.Store
	cloud    Cloud
	nodes    Nodes
	exec     *fetcher.Executor
	log      *zap.Logger
	ttl      time.Duration
	nodeTTL  time.Duration
	status   StatusCallback
	progress ProgressCallback
	interval time.Duration
	group    singleflight.Group

	registry *Registry
	order    []string
	tables   map[string]flatcache.Entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for degraded-data warnings.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithExecutor sets the bounded pool used for every detail fan-out.
func WithExecutor(e *fetcher.Executor) Option {
	return func(m *Manager) {
		if e != nil {
			m.exec = e
		}
	}
}

// WithNodes enables the node state kind backed by n.
func WithNodes(n Nodes) Option {
	return func(m *Manager) { m.nodes = n }
}

// WithTTL overrides the freshness window of every cloud kind.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithNodeStateTTL overrides the freshness window of the node state kind.
func WithNodeStateTTL(d time.Duration) Option {
	return func(m *Manager) { m.nodeTTL = d }
}

// WithStatusCallback sets the per-kind refresh report callback.
func WithStatusCallback(cb StatusCallback) Option {
	return func(m *Manager) {
		if cb != nil {
			m.status = cb
		}
	}
}

// WithProgressCallback observes detail fetch progress, polled at interval.
func WithProgressCallback(cb ProgressCallback, interval time.Duration) Option {
	return func(m *Manager) {
		m.progress = cb
		m.interval = interval
	}
}

// New creates a Manager reading from cloud and caching into store.
func New(store *flatcache.Store, cloud Cloud, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		cloud:   cloud,
		exec:    fetcher.NewExecutor(),
		log:     zap.NewNop(),
		ttl:     flatcache.DefaultTTL,
		nodeTTL: DefaultNodeStateTTL,
		status:  func(Report) {},
		tables:  make(map[string]flatcache.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = m.buildRegistry()
	return m
}

// Kinds returns the registered kind names in refresh order.
func (m *Manager) Kinds() []string {
	return append([]string(nil), m.order...)
}

// Registry exposes the kind registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RefreshAll refreshes the named kinds, or every kind when names is empty,
// in order. A failing kind does not stop the others; its Report carries the
// error. The returned error is non-nil only for unknown kind names.
func (m *Manager) RefreshAll(ctx context.Context, force bool, names ...string) ([]Report, error) {
	if len(names) == 0 {
		names = m.order
	}
	for _, name := range names {
		if !m.registry.Has(name) {
			return nil, &UnknownKindError{Name: name, Available: m.registry.Kinds()}
		}
	}
	reports := make([]Report, 0, len(names))
	for _, name := range names {
		rep, _ := m.registry.Refresh(ctx, name, force)
		m.status(rep)
		reports = append(reports, rep)
	}
	return reports, nil
}

// KindStatus describes the on-disk state of one kind.
type KindStatus struct {
	Kind    string
	Cached  bool
	Fresh   bool
	Age     time.Duration
	TTL     time.Duration
	Records int
}

// Status reports the cache state of every kind without refreshing.
func (m *Manager) Status() []KindStatus {
	out := make([]KindStatus, 0, len(m.order))
	for _, name := range m.order {
		e := m.tables[name]
		st := KindStatus{Kind: name, TTL: e.TTL}
		if age, ok := m.store.Age(e); ok {
			st.Cached = true
			st.Age = age
			st.Fresh = m.store.IsFresh(e)
			if recs, err := m.store.Read(e); err == nil {
				st.Records = len(recs)
			}
		}
		out = append(out, st)
	}
	return out
}

// Invalidate deletes the named caches, or every cache when names is empty.
func (m *Manager) Invalidate(names ...string) error {
	if len(names) == 0 {
		return m.store.InvalidateAll()
	}
	for _, name := range names {
		e, ok := m.tables[name]
		if !ok {
			return &UnknownKindError{Name: name, Available: m.registry.Kinds()}
		}
		if err := m.store.Invalidate(e); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is every cached collection, loaded together for joining.
type Snapshot struct {
	Fabrics         []Fabric
	Clusters        []GPUCluster
	Members         []ClusterMember
	InstanceConfigs []InstanceConfig
	ComputeClusters []ComputeCluster
	Instances       []Instance
	Nodes           []NodeState
	Hosts           []TopologyHost
	Announcements   []Announcement
	Gateways        []Gateway
}

// Snapshot loads every kind, refreshing stale ones. A kind that cannot be
// loaded is left empty and reported; the snapshot is still usable.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, []Report) {
	var (
		s       Snapshot
		reports []Report
	)
	collect := func(rep Report, err error) {
		if err != nil {
			m.log.Warn("kind unavailable", zap.String("kind", rep.Kind), zap.Error(err))
		}
		m.status(rep)
		reports = append(reports, rep)
	}

	var (
		rep Report
		err error
	)
	s.Fabrics, rep, err = m.Fabrics(ctx, false)
	collect(rep, err)
	s.Clusters, rep, err = m.Clusters(ctx, false)
	collect(rep, err)
	s.Members, rep, err = m.ClusterMembers(ctx, false)
	collect(rep, err)
	s.InstanceConfigs, rep, err = m.InstanceConfigs(ctx, false)
	collect(rep, err)
	s.ComputeClusters, rep, err = m.ComputeClusters(ctx, false)
	collect(rep, err)
	s.Instances, rep, err = m.Instances(ctx, false)
	collect(rep, err)
	if m.nodes != nil {
		s.Nodes, rep, err = m.NodeStates(ctx, false)
		collect(rep, err)
	}
	s.Hosts, rep, err = m.CapacityTopology(ctx, false)
	collect(rep, err)
	s.Announcements, rep, err = m.Announcements(ctx, false)
	collect(rep, err)
	s.Gateways, rep, err = m.Gateways(ctx, false)
	collect(rep, err)
	return s, reports
}

// ResizeCluster changes a GPU memory cluster's size and drops the caches
// that describe it.
func (m *Manager) ResizeCluster(ctx context.Context, clusterID string, size int) error {
	if size < 0 {
		return fmt.Errorf("inventory: cluster size must be non-negative, got %d", size)
	}
	if err := m.cloud.ResizeGPUMemoryCluster(ctx, clusterID, size); err != nil {
		return err
	}
	return m.Invalidate(KindClusters, KindClusterMembers)
}

// SetUnschedulable cordons or uncordons a node and drops the node state cache.
func (m *Manager) SetUnschedulable(ctx context.Context, node string, unschedulable bool) error {
	if m.nodes == nil {
		return errNoNodes
	}
	if err := m.nodes.SetUnschedulable(ctx, node, unschedulable); err != nil {
		return err
	}
	return m.Invalidate(KindNodeStates)
}

// executor returns the pool for one kind's detail fan-out, wired to the
// progress callback when one is set.
func (m *Manager) executor(kind string) *fetcher.Executor {
	if m.progress == nil {
		return m.exec
	}
	return m.exec.With(fetcher.WithProgress(func(done, total int) {
		m.progress(kind, done, total)
	}, m.interval))
}

// refreshed is the value shared by singleflight callers.
type refreshed[T any] struct {
	items  []T
	report Report
}

// refresh serves t from disk when fresh, otherwise calls fetch and replaces
// the cache. On fetch failure the previous contents are returned untouched;
// ErrNoData is returned only when there is nothing to fall back to.
// Concurrent calls for the same kind share one execution.
func refresh[T any](ctx context.Context, m *Manager, t *flatcache.Table[T], force bool,
	fetch func(context.Context) ([]T, int, error)) ([]T, Report, error) {
	name := t.Entry.Name
	v, err, _ := m.group.Do(name, func() (any, error) {
		if !force && t.IsFresh() {
			items, err := t.Read()
			if err == nil {
				return refreshed[T]{items, Report{Kind: name, Outcome: OutcomeHit, Records: len(items)}}, nil
			}
			m.log.Debug("fresh cache unreadable, refetching", zap.String("kind", name), zap.Error(err))
		}

		items, failed, ferr := fetch(ctx)
		if ferr != nil {
			prev, rerr := t.Read()
			if rerr != nil {
				m.log.Warn("refresh failed, no cached data", zap.String("kind", name), zap.Error(ferr))
				return refreshed[T]{nil, Report{Kind: name, Outcome: OutcomeMissing, Err: ferr}},
					fmt.Errorf("%w: %s: %w", ErrNoData, name, ferr)
			}
			m.log.Warn("refresh failed, using stale cache",
				zap.String("kind", name), zap.Int("records", len(prev)), zap.Error(ferr))
			return refreshed[T]{prev, Report{Kind: name, Outcome: OutcomeStale, Records: len(prev), Err: ferr}}, nil
		}

		if err := t.Write(items); err != nil {
			m.log.Warn("cache write failed", zap.String("kind", name), zap.Error(err))
		}
		return refreshed[T]{items, Report{Kind: name, Outcome: OutcomeRefreshed, Records: len(items), FailedDetails: failed}}, nil
	})
	r, _ := v.(refreshed[T])
	if r.report.Kind == "" {
		r.report = Report{Kind: name, Outcome: OutcomeMissing, Err: err}
	}
	return r.items, r.report, err
}

// fanOut runs fetch once per id on the manager's pool and logs each failed
// id. When every id fails the whole fetch is treated as failed so the
// previous cache is kept.
func fanOut[T any](ctx context.Context, m *Manager, kind string, ids []string, fn fetcher.FetchFunc[T]) ([]T, int, error) {
	res := fetcher.Run(ctx, m.executor(kind), ids, fn)
	for id, err := range res.Failed {
		m.log.Warn("detail fetch failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	}
	if len(ids) > 0 && len(res.Failed) == len(ids) {
		return nil, len(res.Failed), fmt.Errorf("inventory: all %d %s detail fetches failed: %w",
			len(ids), kind, firstError(ids, res.Failed))
	}
	return res.Items, len(res.Failed), nil
}

// firstError returns the error of the first id, in input order, that failed.
func firstError(ids []string, failed map[string]error) error {
	for _, id := range ids {
		if err, ok := failed[id]; ok {
			return err
		}
	}
	return nil
}
