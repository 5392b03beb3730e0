package inventory

import (
	"slices"
	"strconv"

	"github.com/smileynet/gpufleet/internal/flatcache"
)

// Cache names. These double as the kind names accepted by the CLI.
const (
	KindFabrics          = "gpu_fabrics"
	KindClusters         = "gpu_clusters"
	KindClusterMembers   = "gpu_cluster_members"
	KindInstanceConfigs  = "instance_configs"
	KindComputeClusters  = "compute_clusters"
	KindInstances        = "instances"
	KindNodeStates       = "node_states"
	KindCapacityTopology = "capacity_topology"
	KindAnnouncements    = "announcements"
	KindGateways         = "network_gateways"
)

// Fabric is a GPU memory fabric.
type Fabric struct {
	ID             string
	DisplayName    string
	State          string
	Health         string
	HealthyHosts   int
	AvailableHosts int
	TotalHosts     int
	HPCIslandID    string
}

// GPUCluster is a GPU memory cluster with its detail fields filled in.
type GPUCluster struct {
	ID                 string
	DisplayName        string
	State              string
	AvailabilityDomain string
	Size               int
	FabricID           string
	InstanceConfigID   string
	ComputeClusterID   string
}

// ClusterMember records that an instance belongs to a GPU memory cluster.
type ClusterMember struct {
	InstanceID  string
	ClusterID   string
	DisplayName string
	State       string
	FaultDomain string
}

// InstanceConfig is an instance configuration.
type InstanceConfig struct {
	ID          string
	DisplayName string
	TimeCreated string
}

// ComputeCluster is an RDMA placement group.
type ComputeCluster struct {
	ID                 string
	DisplayName        string
	State              string
	AvailabilityDomain string
}

// Instance is a GPU compute instance.
type Instance struct {
	ID                 string
	DisplayName        string
	State              string
	Shape              string
	AvailabilityDomain string
	FaultDomain        string
	TimeCreated        string
}

// NodeState is a Kubernetes node as seen by the inventory.
type NodeState struct {
	Name        string
	InstanceID  string
	Ready       string
	Schedulable bool
	GPUs        int64
	GPUPods     int
}

// TopologyHost is a bare metal host reported by a capacity topology.
type TopologyHost struct {
	HostID         string
	InstanceID     string // empty for unallocated hosts
	TopologyID     string
	State          string
	Details        string
	HPCIslandID    string
	NetworkBlockID string
	LocalBlockID   string
}

// Announcement is one entry of the announcement list. Affected resources
// live in the detail payload, handled by the announce package.
type Announcement struct {
	ID      string
	Ticket  string // full reference ticket number
	Type    string
	State   string
	Summary string
	TimeOne string
}

// Gateway is a VCN gateway.
type Gateway struct {
	ID          string
	Type        string // "internet", "nat" or "service"
	DisplayName string
	State       string
	VCNID       string
}

// Transitional lifecycle states that force a refresh within the TTL.
var (
	clusterTransitional  = []string{"CREATING", "UPDATING", "SCALING", "DELETING"}
	fabricTransitional   = []string{"CREATING", "UPDATING", "PROVISIONING", "DELETING"}
	instanceTransitional = []string{"PROVISIONING", "STARTING", "STOPPING", "TERMINATING", "MOVING"}
	memberTransitional   = []string{"CREATING", "ATTACHING", "DETACHING", "DELETING", "PROVISIONING"}
)

// anyState returns a soft-invalidation predicate that fires when the field at
// col of any record is one of states.
func anyState(col int, states []string) func([]flatcache.Record) bool {
	return func(records []flatcache.Record) bool {
		for _, r := range records {
			if slices.Contains(states, r.Field(col)) {
				return true
			}
		}
		return false
	}
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

var fabricEntry = flatcache.Entry{
	Name:    KindFabrics,
	Columns: []string{"id", "display_name", "state", "health", "healthy_hosts", "available_hosts", "total_hosts", "hpc_island_id"},
	Stale:   anyState(2, fabricTransitional),
}

var fabricCodec = flatcache.Codec[Fabric]{
	Encode: func(f Fabric) flatcache.Record {
		return flatcache.Record{f.ID, f.DisplayName, f.State, f.Health,
			strconv.Itoa(f.HealthyHosts), strconv.Itoa(f.AvailableHosts), strconv.Itoa(f.TotalHosts), f.HPCIslandID}
	},
	Decode: func(r flatcache.Record) (Fabric, bool) {
		healthy, ok1 := atoi(r[4])
		avail, ok2 := atoi(r[5])
		total, ok3 := atoi(r[6])
		if !ok1 || !ok2 || !ok3 {
			return Fabric{}, false
		}
		return Fabric{ID: r[0], DisplayName: r[1], State: r[2], Health: r[3],
			HealthyHosts: healthy, AvailableHosts: avail, TotalHosts: total, HPCIslandID: r[7]}, true
	},
}

var clusterEntry = flatcache.Entry{
	Name:    KindClusters,
	Columns: []string{"id", "display_name", "state", "availability_domain", "size", "fabric_id", "instance_configuration_id", "compute_cluster_id"},
	Stale:   anyState(2, clusterTransitional),
}

var clusterCodec = flatcache.Codec[GPUCluster]{
	Encode: func(c GPUCluster) flatcache.Record {
		return flatcache.Record{c.ID, c.DisplayName, c.State, c.AvailabilityDomain,
			strconv.Itoa(c.Size), c.FabricID, c.InstanceConfigID, c.ComputeClusterID}
	},
	Decode: func(r flatcache.Record) (GPUCluster, bool) {
		size, ok := atoi(r[4])
		if !ok {
			return GPUCluster{}, false
		}
		return GPUCluster{ID: r[0], DisplayName: r[1], State: r[2], AvailabilityDomain: r[3],
			Size: size, FabricID: r[5], InstanceConfigID: r[6], ComputeClusterID: r[7]}, true
	},
}

var memberEntry = flatcache.Entry{
	Name:    KindClusterMembers,
	Columns: []string{"instance_id", "cluster_id", "display_name", "state", "fault_domain"},
	Stale:   anyState(3, memberTransitional),
}

var memberCodec = flatcache.Codec[ClusterMember]{
	Encode: func(m ClusterMember) flatcache.Record {
		return flatcache.Record{m.InstanceID, m.ClusterID, m.DisplayName, m.State, m.FaultDomain}
	},
	Decode: func(r flatcache.Record) (ClusterMember, bool) {
		return ClusterMember{InstanceID: r[0], ClusterID: r[1], DisplayName: r[2], State: r[3], FaultDomain: r[4]}, true
	},
}

var instanceConfigEntry = flatcache.Entry{
	Name:    KindInstanceConfigs,
	Columns: []string{"id", "display_name", "time_created"},
}

var instanceConfigCodec = flatcache.Codec[InstanceConfig]{
	Encode: func(c InstanceConfig) flatcache.Record {
		return flatcache.Record{c.ID, c.DisplayName, c.TimeCreated}
	},
	Decode: func(r flatcache.Record) (InstanceConfig, bool) {
		return InstanceConfig{ID: r[0], DisplayName: r[1], TimeCreated: r[2]}, true
	},
}

var computeClusterEntry = flatcache.Entry{
	Name:    KindComputeClusters,
	Columns: []string{"id", "display_name", "state", "availability_domain"},
}

var computeClusterCodec = flatcache.Codec[ComputeCluster]{
	Encode: func(c ComputeCluster) flatcache.Record {
		return flatcache.Record{c.ID, c.DisplayName, c.State, c.AvailabilityDomain}
	},
	Decode: func(r flatcache.Record) (ComputeCluster, bool) {
		return ComputeCluster{ID: r[0], DisplayName: r[1], State: r[2], AvailabilityDomain: r[3]}, true
	},
}

var instanceEntry = flatcache.Entry{
	Name:    KindInstances,
	Columns: []string{"id", "display_name", "state", "shape", "availability_domain", "fault_domain", "time_created"},
	Stale:   anyState(2, instanceTransitional),
}

var instanceCodec = flatcache.Codec[Instance]{
	Encode: func(i Instance) flatcache.Record {
		return flatcache.Record{i.ID, i.DisplayName, i.State, i.Shape, i.AvailabilityDomain, i.FaultDomain, i.TimeCreated}
	},
	Decode: func(r flatcache.Record) (Instance, bool) {
		return Instance{ID: r[0], DisplayName: r[1], State: r[2], Shape: r[3],
			AvailabilityDomain: r[4], FaultDomain: r[5], TimeCreated: r[6]}, true
	},
}

var nodeStateEntry = flatcache.Entry{
	Name:    KindNodeStates,
	TTL:     DefaultNodeStateTTL,
	Columns: []string{"name", "instance_id", "ready", "schedulable", "gpus", "gpu_pods"},
}

var nodeStateCodec = flatcache.Codec[NodeState]{
	Encode: func(n NodeState) flatcache.Record {
		return flatcache.Record{n.Name, n.InstanceID, n.Ready, strconv.FormatBool(n.Schedulable),
			strconv.FormatInt(n.GPUs, 10), strconv.Itoa(n.GPUPods)}
	},
	Decode: func(r flatcache.Record) (NodeState, bool) {
		sched, err := strconv.ParseBool(r[3])
		if err != nil {
			return NodeState{}, false
		}
		gpus, err := strconv.ParseInt(r[4], 10, 64)
		if err != nil {
			return NodeState{}, false
		}
		pods, ok := atoi(r[5])
		if !ok {
			return NodeState{}, false
		}
		return NodeState{Name: r[0], InstanceID: r[1], Ready: r[2], Schedulable: sched, GPUs: gpus, GPUPods: pods}, true
	},
}

var topologyEntry = flatcache.Entry{
	Name:    KindCapacityTopology,
	Columns: []string{"host_id", "instance_id", "topology_id", "state", "details", "hpc_island_id", "network_block_id", "local_block_id"},
}

var topologyCodec = flatcache.Codec[TopologyHost]{
	Encode: func(h TopologyHost) flatcache.Record {
		return flatcache.Record{h.HostID, h.InstanceID, h.TopologyID, h.State, h.Details,
			h.HPCIslandID, h.NetworkBlockID, h.LocalBlockID}
	},
	Decode: func(r flatcache.Record) (TopologyHost, bool) {
		return TopologyHost{HostID: r[0], InstanceID: r[1], TopologyID: r[2], State: r[3], Details: r[4],
			HPCIslandID: r[5], NetworkBlockID: r[6], LocalBlockID: r[7]}, true
	},
}

var announcementEntry = flatcache.Entry{
	Name:    KindAnnouncements,
	Columns: []string{"id", "ticket", "type", "state", "summary", "time_one"},
}

var announcementCodec = flatcache.Codec[Announcement]{
	Encode: func(a Announcement) flatcache.Record {
		return flatcache.Record{a.ID, a.Ticket, a.Type, a.State, a.Summary, a.TimeOne}
	},
	Decode: func(r flatcache.Record) (Announcement, bool) {
		return Announcement{ID: r[0], Ticket: r[1], Type: r[2], State: r[3], Summary: r[4], TimeOne: r[5]}, true
	},
}

var gatewayEntry = flatcache.Entry{
	Name:    KindGateways,
	Columns: []string{"id", "type", "display_name", "state", "vcn_id"},
}

var gatewayCodec = flatcache.Codec[Gateway]{
	Encode: func(g Gateway) flatcache.Record {
		return flatcache.Record{g.ID, g.Type, g.DisplayName, g.State, g.VCNID}
	},
	Decode: func(r flatcache.Record) (Gateway, bool) {
		return Gateway{ID: r[0], Type: r[1], DisplayName: r[2], State: r[3], VCNID: r[4]}, true
	},
}
