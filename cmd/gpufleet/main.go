package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/alecthomas/kong"

	"github.com/smileynet/gpufleet"
	"github.com/smileynet/gpufleet/internal/announce"
	"github.com/smileynet/gpufleet/internal/config"
	"github.com/smileynet/gpufleet/internal/fetcher"
	"github.com/smileynet/gpufleet/internal/inventory"
	"github.com/smileynet/gpufleet/internal/oci"
	"github.com/smileynet/gpufleet/internal/report"
	"github.com/smileynet/gpufleet/internal/resolve"
	"github.com/smileynet/gpufleet/internal/tui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// detailsKind labels the announcement detail pass in refresh output.
const detailsKind = "announcement_details"

// progressInterval is how often detail fetch progress is sampled.
const progressInterval = 200 * time.Millisecond

// Globals are flags shared by every command.
type Globals struct {
	ConfigFile string `help:"Config file to load instead of the default search paths." short:"c" type:"path"`
	LogLevel   string `help:"Log level override (debug, info, warn, error)."`

	out io.Writer
	err io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) stderr() io.Writer {
	if g.err == nil {
		return os.Stderr
	}
	return g.err
}

// CLI is the top-level command structure for gpufleet.
type CLI struct {
	Globals

	Version       kong.VersionFlag `help:"Show version." short:"V"`
	Refresh       RefreshCmd       `cmd:"" help:"Refresh cached inventory."`
	Instances     InstancesCmd     `cmd:"" help:"List GPU instances with cluster, fabric, capacity, node and ticket joins."`
	Show          ShowCmd          `cmd:"" help:"Show one instance with every join resolved."`
	Clusters      ClustersCmd      `cmd:"" help:"List GPU memory clusters."`
	Announcements AnnouncementsCmd `cmd:"" help:"List active maintenance announcements."`
	Cache         CacheCmd         `cmd:"" help:"Inspect or clear the local cache."`
	Resize        ResizeCmd        `cmd:"" help:"Resize a GPU memory cluster."`
	Cordon        CordonCmd        `cmd:"" help:"Mark a Kubernetes node unschedulable."`
	Uncordon      UncordonCmd      `cmd:"" help:"Mark a Kubernetes node schedulable."`
	Config        ConfigCmd        `cmd:"" help:"Manage configuration."`
}

// RefreshCmd refreshes the named kinds, or every kind.
type RefreshCmd struct {
	Kinds []string `arg:"" optional:"" help:"Kinds to refresh (default: all)."`
	Force bool     `help:"Refresh even when the cache is fresh." short:"f"`
	NoTUI bool     `help:"Force plain text output even if stderr is a TTY." default:"false"`
}

// Run executes the refresh command.
func (r *RefreshCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := tui.NewBridge()
	a, err := g.open(false)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer func() { _ = a.log.Sync() }()

	inv := a.manager(inventory.WithProgressCallback(bridge.Progress, progressInterval))
	kinds := r.Kinds
	if len(kinds) == 0 {
		kinds = inv.Kinds()
	}
	for _, k := range kinds {
		if !inv.Registry().Has(k) {
			return &inventory.UnknownKindError{Name: k, Available: inv.Registry().Kinds()}
		}
	}

	names := kinds
	withDetails := slices.Contains(kinds, inventory.KindAnnouncements)
	if withDetails {
		names = append(append([]string(nil), kinds...), detailsKind)
	}

	display := tui.NewDisplay(tui.DisplayOptions{
		Writer:     g.stderr(),
		ForcePlain: r.NoTUI,
		Kinds:      names,
		CancelFunc: cancel,
	})
	ann := a.announcer(announce.WithExecutor(a.exec.With(fetcher.WithProgress(func(done, total int) {
		bridge.Progress(detailsKind, done, total)
	}, progressInterval))))

	return r.run(ctx, inv, ann, kinds, withDetails, display, bridge)
}

// run drives the refresh with display lifecycle management.
func (r *RefreshCmd) run(parent context.Context, inv *inventory.Manager, ann *announce.Builder, kinds []string, withDetails bool, display tui.Display, bridge *tui.Bridge) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	displayDone := make(chan error, 1)
	go func() {
		displayDone <- display.Run(ctx, bridge.Events())
		// Keep the producer unblocked if the display stops early.
		for range bridge.Events() {
		}
	}()

	total := len(kinds)
	if withDetails {
		total++
	}

	var missing []error
	for i, kind := range kinds {
		progress := fmt.Sprintf("%d/%d", i+1, total)
		bridge.Send(tui.StatusUpdateMsg{Kind: kind, Status: tui.StatusRunning, Progress: progress})

		start := time.Now()
		reports, err := inv.RefreshAll(ctx, r.Force, kind)
		if err != nil {
			bridge.Error(err)
			<-displayDone
			return err
		}
		rep := reports[0]
		bridge.Send(statusMsg(rep, progress, time.Since(start)))
		if rep.Outcome == inventory.OutcomeMissing {
			missing = append(missing, fmt.Errorf("%s: %w", rep.Kind, rep.Err))
		}
	}

	if withDetails {
		progress := fmt.Sprintf("%d/%d", total, total)
		bridge.Send(tui.StatusUpdateMsg{Kind: detailsKind, Status: tui.StatusRunning, Progress: progress})
		start := time.Now()
		msg := tui.StatusUpdateMsg{Kind: detailsKind, Status: tui.StatusRefreshed, Progress: progress}
		anns, _, err := inv.Announcements(ctx, false)
		if err == nil {
			var st announce.Stats
			_, st, err = ann.Build(ctx, summaries(anns))
			msg.Records = st.Active
			msg.Failed = st.Failed
		}
		if err != nil {
			msg.Status = tui.StatusMissing
			msg.Err = err.Error()
		}
		msg.Duration = time.Since(start)
		bridge.Send(msg)
	}

	bridge.Done()
	if err := <-displayDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if len(missing) > 0 {
		return fmt.Errorf("refresh: %d of %d kinds unavailable: %w: %w",
			len(missing), len(kinds), inventory.ErrNoData, errors.Join(missing...))
	}
	return nil
}

// outcomeStatus maps refresh outcomes to display states.
var outcomeStatus = map[inventory.Outcome]tui.KindStatus{
	inventory.OutcomeHit:       tui.StatusCached,
	inventory.OutcomeRefreshed: tui.StatusRefreshed,
	inventory.OutcomeStale:     tui.StatusStale,
	inventory.OutcomeMissing:   tui.StatusMissing,
}

// statusMsg converts a finished kind's report to a display update.
func statusMsg(rep inventory.Report, progress string, d time.Duration) tui.StatusUpdateMsg {
	msg := tui.StatusUpdateMsg{
		Kind:     rep.Kind,
		Status:   outcomeStatus[rep.Outcome],
		Progress: progress,
		Records:  rep.Records,
		Failed:   rep.FailedDetails,
		Duration: d,
	}
	if rep.Err != nil {
		msg.Err = rep.Err.Error()
	}
	return msg
}

// summaries adapts cached announcement records to lookup builder input.
func summaries(anns []inventory.Announcement) []announce.Summary {
	out := make([]announce.Summary, len(anns))
	for i, a := range anns {
		out[i] = announce.Summary{ID: a.ID, State: a.State, Ticket: a.Ticket}
	}
	return out
}

// InstancesCmd lists every GPU instance view.
type InstancesCmd struct{}

// Run executes the instances command.
func (c *InstancesCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := g.open(false)
	if err != nil {
		return fmt.Errorf("instances: %w", err)
	}
	res, reports, _ := a.resolve(ctx)
	if err := requireKinds(reports, inventory.KindInstances); err != nil {
		return fmt.Errorf("instances: %w", err)
	}
	return report.Instances(g.stdout(), res.Views())
}

// ShowCmd prints one joined instance view.
type ShowCmd struct {
	InstanceID string `arg:"" help:"Instance OCID."`
}

// Run executes the show command.
func (c *ShowCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := g.open(false)
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}
	res, reports, _ := a.resolve(ctx)
	v, err := res.View(c.InstanceID)
	if err != nil {
		if nerr := requireKinds(reports, inventory.KindInstances, inventory.KindClusterMembers); nerr != nil {
			return fmt.Errorf("show %s: %w", c.InstanceID, nerr)
		}
		return fmt.Errorf("show %s: %w", c.InstanceID, err)
	}
	return report.Instance(g.stdout(), v)
}

// ClustersCmd lists GPU memory clusters.
type ClustersCmd struct{}

// Run executes the clusters command.
func (c *ClustersCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := g.open(false)
	if err != nil {
		return fmt.Errorf("clusters: %w", err)
	}
	res, reports, _ := a.resolve(ctx)
	if err := requireKinds(reports, inventory.KindClusters); err != nil {
		return fmt.Errorf("clusters: %w", err)
	}
	return report.Clusters(g.stdout(), res.ClusterViews())
}

// AnnouncementsCmd lists the active announcements.
type AnnouncementsCmd struct{}

// Run executes the announcements command.
func (c *AnnouncementsCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := g.open(false)
	if err != nil {
		return fmt.Errorf("announcements: %w", err)
	}
	anns, _, err := a.inv.Announcements(ctx, false)
	if err != nil {
		return fmt.Errorf("announcements: %w", err)
	}
	lookup, _, err := a.ann.Build(ctx, summaries(anns))
	if err != nil {
		return fmt.Errorf("announcements: %w", err)
	}
	return report.Announcements(g.stdout(), lookup.Active)
}

// CacheCmd groups cache maintenance commands.
type CacheCmd struct {
	Status CacheStatusCmd `cmd:"" default:"1" help:"Show freshness of every cached kind."`
	Clear  CacheClearCmd  `cmd:"" help:"Delete cached kinds."`
}

// CacheStatusCmd prints per-kind freshness.
type CacheStatusCmd struct{}

// Run executes the cache status command.
func (c *CacheStatusCmd) Run(g *Globals) error {
	a, err := g.open(true)
	if err != nil {
		return fmt.Errorf("cache status: %w", err)
	}
	return report.CacheStatus(g.stdout(), a.inv.Status())
}

// CacheClearCmd deletes caches.
type CacheClearCmd struct {
	Kinds []string `arg:"" optional:"" help:"Kinds to clear (default: all, including announcement details)."`
}

// Run executes the cache clear command.
func (c *CacheClearCmd) Run(g *Globals) error {
	a, err := g.open(true)
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	if err := a.inv.Invalidate(c.Kinds...); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	if len(c.Kinds) == 0 || slices.Contains(c.Kinds, inventory.KindAnnouncements) {
		if err := a.ann.ClearDetails(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	_, _ = fmt.Fprintln(g.stdout(), "Cache cleared")
	return nil
}

// ResizeCmd changes a GPU memory cluster's size.
type ResizeCmd struct {
	ClusterID string `arg:"" help:"GPU memory cluster OCID."`
	Size      int    `arg:"" help:"New number of instances."`
}

// Run executes the resize command.
func (c *ResizeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := g.open(false)
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	if err := a.inv.ResizeCluster(ctx, c.ClusterID, c.Size); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	_, _ = fmt.Fprintf(g.stdout(), "Resize of %s to %d requested\n", c.ClusterID, c.Size)
	return nil
}

// CordonCmd marks a node unschedulable.
type CordonCmd struct {
	Node string `arg:"" help:"Kubernetes node name."`
}

// Run executes the cordon command.
func (c *CordonCmd) Run(g *Globals) error {
	return setSchedulable(g, c.Node, true)
}

// UncordonCmd marks a node schedulable.
type UncordonCmd struct {
	Node string `arg:"" help:"Kubernetes node name."`
}

// Run executes the uncordon command.
func (c *UncordonCmd) Run(g *Globals) error {
	return setSchedulable(g, c.Node, false)
}

func setSchedulable(g *Globals, node string, unschedulable bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	verb := "uncordon"
	if unschedulable {
		verb = "cordon"
	}
	a, err := g.open(true)
	if err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	if err := a.inv.SetUnschedulable(ctx, node, unschedulable); err != nil {
		return fmt.Errorf("%s %s: %w", verb, node, err)
	}
	_, _ = fmt.Fprintf(g.stdout(), "Node %s %sed\n", node, verb)
	return nil
}

// ConfigCmd groups configuration commands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a default config file."`
}

// ConfigInitCmd writes the config template.
type ConfigInitCmd struct {
	Path        string `help:"Destination file." default:".gpufleet/config.yaml" type:"path"`
	TemplateDir string `help:"Directory checked for a local config.yaml template before the built-in one." default:".gpufleet/templates" type:"path"`
	Force       bool   `help:"Overwrite an existing file."`
}

// Run executes the config init command.
func (c *ConfigInitCmd) Run(g *Globals) error {
	if !c.Force {
		if _, err := os.Stat(c.Path); err == nil {
			return fmt.Errorf("config init: %s already exists (use --force to overwrite)", c.Path)
		}
	}
	data, err := fs.ReadFile(gpufleet.OverlayFS(c.TemplateDir, gpufleet.Templates), gpufleet.ConfigTemplate)
	if err != nil {
		return fmt.Errorf("config init: reading template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("config init: %w", err)
	}
	if err := os.WriteFile(c.Path, data, 0o644); err != nil {
		return fmt.Errorf("config init: %w", err)
	}
	if _, err := config.Load(c.Path); err != nil {
		return fmt.Errorf("config init: written template does not load: %w", err)
	}
	_, _ = fmt.Fprintf(g.stdout(), "Wrote %s\n", c.Path)
	return nil
}

// requireKinds fails on the first named kind that has no data at all.
// Stale data is acceptable.
func requireKinds(reports []inventory.Report, kinds ...string) error {
	for _, rep := range reports {
		if rep.Outcome == inventory.OutcomeMissing && slices.Contains(kinds, rep.Kind) {
			return fmt.Errorf("%w: %s: %w", inventory.ErrNoData, rep.Kind, rep.Err)
		}
	}
	return nil
}

// Exit codes.
const (
	exitSuccess = 0
	exitNoData  = 1
	exitSetup   = 2
)

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, inventory.ErrNoData) || errors.Is(err, resolve.ErrNotFound) {
		return exitNoData
	}
	var pe *oci.ProviderError
	var te *oci.TimeoutError
	if errors.As(err, &pe) || errors.As(err, &te) {
		return exitNoData
	}
	return exitSetup
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gpufleet"),
		kong.Description("GPU fleet inventory cache and reconciliation."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	err := ctx.Run(&cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
