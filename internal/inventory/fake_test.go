package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smileynet/gpufleet/internal/kube"
	"github.com/smileynet/gpufleet/internal/oci"
)

var errUpstream = errors.New("ServiceError: NotAuthenticated")

// fakeCloud serves canned data and counts calls per method.
type fakeCloud struct {
	mu    sync.Mutex
	calls map[string]int

	fabrics    []oci.GPUMemoryFabric
	clusters   []oci.GPUMemoryCluster // list and get share this data
	members    map[string][]oci.GPUMemoryClusterInstance
	configs    []oci.InstanceConfiguration
	compute    []oci.ComputeCluster
	instances  []oci.Instance
	topologies []oci.CapacityTopology
	hosts      map[string][]oci.BareMetalHost
	announces  []oci.AnnouncementSummary
	gateways   map[string][]oci.Gateway
	resized    map[string]int

	// errs maps "Method" or "Method id" to an error.
	errs map[string]error
	// block, when set, is waited on by ListGPUMemoryFabrics.
	block   chan struct{}
	entered chan struct{}
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		calls:   make(map[string]int),
		members: make(map[string][]oci.GPUMemoryClusterInstance),
		hosts:   make(map[string][]oci.BareMetalHost),
		gateways: map[string][]oci.Gateway{
			"internet": {{ID: "igw-1", Type: "internet", VCNID: "vcn-1"}},
			"nat":      {{ID: "ngw-1", Type: "nat", VCNID: "vcn-1"}},
			"service":  {{ID: "sgw-1", Type: "service", VCNID: "vcn-1"}},
		},
		resized: make(map[string]int),
		errs:    make(map[string]error),
	}
}

func (f *fakeCloud) record(method string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if id != "" {
		if err, ok := f.errs[method+" "+id]; ok {
			return err
		}
	}
	return f.errs[method]
}

func (f *fakeCloud) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeCloud) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeCloud) ListGPUMemoryFabrics(ctx context.Context) ([]oci.GPUMemoryFabric, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if err := f.record("ListGPUMemoryFabrics", ""); err != nil {
		return nil, err
	}
	return f.fabrics, nil
}

func (f *fakeCloud) ListGPUMemoryClusters(ctx context.Context) ([]oci.GPUMemoryCluster, error) {
	if err := f.record("ListGPUMemoryClusters", ""); err != nil {
		return nil, err
	}
	out := make([]oci.GPUMemoryCluster, len(f.clusters))
	for i, c := range f.clusters {
		// List responses carry no detail fields.
		out[i] = oci.GPUMemoryCluster{ID: c.ID, DisplayName: c.DisplayName, LifecycleState: c.LifecycleState}
	}
	return out, nil
}

func (f *fakeCloud) GetGPUMemoryCluster(ctx context.Context, id string) (oci.GPUMemoryCluster, error) {
	if err := f.record("GetGPUMemoryCluster", id); err != nil {
		return oci.GPUMemoryCluster{}, err
	}
	for _, c := range f.clusters {
		if c.ID == id {
			return c, nil
		}
	}
	return oci.GPUMemoryCluster{}, fmt.Errorf("NotFound: %s", id)
}

func (f *fakeCloud) ListGPUMemoryClusterInstances(ctx context.Context, clusterID string) ([]oci.GPUMemoryClusterInstance, error) {
	if err := f.record("ListGPUMemoryClusterInstances", clusterID); err != nil {
		return nil, err
	}
	return f.members[clusterID], nil
}

func (f *fakeCloud) ListInstanceConfigurations(ctx context.Context) ([]oci.InstanceConfiguration, error) {
	if err := f.record("ListInstanceConfigurations", ""); err != nil {
		return nil, err
	}
	return f.configs, nil
}

func (f *fakeCloud) ListComputeClusters(ctx context.Context) ([]oci.ComputeCluster, error) {
	if err := f.record("ListComputeClusters", ""); err != nil {
		return nil, err
	}
	return f.compute, nil
}

func (f *fakeCloud) ListInstances(ctx context.Context) ([]oci.Instance, error) {
	if err := f.record("ListInstances", ""); err != nil {
		return nil, err
	}
	return f.instances, nil
}

func (f *fakeCloud) ListCapacityTopologies(ctx context.Context) ([]oci.CapacityTopology, error) {
	if err := f.record("ListCapacityTopologies", ""); err != nil {
		return nil, err
	}
	return f.topologies, nil
}

func (f *fakeCloud) ListBareMetalHosts(ctx context.Context, topologyID string) ([]oci.BareMetalHost, error) {
	if err := f.record("ListBareMetalHosts", topologyID); err != nil {
		return nil, err
	}
	return f.hosts[topologyID], nil
}

func (f *fakeCloud) ListAnnouncements(ctx context.Context) ([]oci.AnnouncementSummary, error) {
	if err := f.record("ListAnnouncements", ""); err != nil {
		return nil, err
	}
	return f.announces, nil
}

func (f *fakeCloud) ListGateways(ctx context.Context, gwType string) ([]oci.Gateway, error) {
	if err := f.record("ListGateways", gwType); err != nil {
		return nil, err
	}
	return f.gateways[gwType], nil
}

func (f *fakeCloud) ResizeGPUMemoryCluster(ctx context.Context, id string, size int) error {
	if err := f.record("ResizeGPUMemoryCluster", id); err != nil {
		return err
	}
	f.mu.Lock()
	f.resized[id] = size
	f.mu.Unlock()
	return nil
}

// fakeNodes serves canned node state.
type fakeNodes struct {
	mu       sync.Mutex
	states   []kube.NodeState
	err      error
	lists    int
	cordoned map[string]bool
}

func (n *fakeNodes) ListNodeStates(ctx context.Context) ([]kube.NodeState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lists++
	return n.states, n.err
}

func (n *fakeNodes) SetUnschedulable(ctx context.Context, node string, unschedulable bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cordoned == nil {
		n.cordoned = make(map[string]bool)
	}
	n.cordoned[node] = unschedulable
	return nil
}
