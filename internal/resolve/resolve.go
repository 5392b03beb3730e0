// Package resolve joins independently cached inventory collections into
// per-instance and per-cluster views. A Resolver is built from one snapshot
// and never fetches; every lookup has a defined not-found result.
package resolve

import (
	"cmp"
	"errors"
	"slices"

	"github.com/smileynet/gpufleet/internal/announce"
	"github.com/smileynet/gpufleet/internal/inventory"
)

// NotAvailable is the display value of a join that found nothing.
const NotAvailable = "N/A"

// FabricSuffixLen is how many trailing id characters identify a fabric.
const FabricSuffixLen = 5

// ErrNotFound is returned by View for an id absent from every collection.
var ErrNotFound = errors.New("resolve: not found")

// Resolver holds the join maps for one snapshot. It is read-only after Build.
type Resolver struct {
	instances      map[string]inventory.Instance
	instanceOrder  []string
	clusters       map[string]inventory.GPUCluster
	clusterOrder   []string
	memberOf       map[string]inventory.ClusterMember
	memberCount    map[string]int
	fabricByID     map[string]inventory.Fabric
	fabricBySuffix map[string]inventory.Fabric
	capacity       map[string]inventory.TopologyHost
	nodes          map[string]inventory.NodeState
	lookup         announce.Lookup
}

// Build indexes snap and lookup. When an id occurs more than once in a
// collection the first record wins.
func Build(snap inventory.Snapshot, lookup announce.Lookup) *Resolver {
	r := &Resolver{
		instances:      make(map[string]inventory.Instance, len(snap.Instances)),
		clusters:       make(map[string]inventory.GPUCluster, len(snap.Clusters)),
		memberOf:       make(map[string]inventory.ClusterMember, len(snap.Members)),
		memberCount:    make(map[string]int, len(snap.Clusters)),
		fabricByID:     make(map[string]inventory.Fabric, len(snap.Fabrics)),
		fabricBySuffix: make(map[string]inventory.Fabric, len(snap.Fabrics)),
		capacity:       make(map[string]inventory.TopologyHost, len(snap.Hosts)),
		nodes:          make(map[string]inventory.NodeState, len(snap.Nodes)),
		lookup:         lookup,
	}

	for _, in := range snap.Instances {
		if _, ok := r.instances[in.ID]; ok || in.ID == "" {
			continue
		}
		r.instances[in.ID] = in
		r.instanceOrder = append(r.instanceOrder, in.ID)
	}
	for _, c := range snap.Clusters {
		if _, ok := r.clusters[c.ID]; ok || c.ID == "" {
			continue
		}
		r.clusters[c.ID] = c
		r.clusterOrder = append(r.clusterOrder, c.ID)
	}
	for _, m := range snap.Members {
		if _, ok := r.memberOf[m.InstanceID]; ok || m.InstanceID == "" {
			continue
		}
		r.memberOf[m.InstanceID] = m
		r.memberCount[m.ClusterID]++
		if _, ok := r.instances[m.InstanceID]; !ok {
			r.instanceOrder = append(r.instanceOrder, m.InstanceID)
		}
	}
	for _, f := range snap.Fabrics {
		if _, ok := r.fabricByID[f.ID]; !ok && f.ID != "" {
			r.fabricByID[f.ID] = f
		}
		key := FabricSuffix(f.ID)
		if _, ok := r.fabricBySuffix[key]; ok || key == "" {
			continue
		}
		r.fabricBySuffix[key] = f
	}
	for _, h := range snap.Hosts {
		if _, ok := r.capacity[h.InstanceID]; ok || h.InstanceID == "" {
			continue
		}
		r.capacity[h.InstanceID] = h
	}
	for _, n := range snap.Nodes {
		if _, ok := r.nodes[n.InstanceID]; ok || n.InstanceID == "" {
			continue
		}
		r.nodes[n.InstanceID] = n
	}
	return r
}

// FabricSuffix returns the last FabricSuffixLen characters of id.
func FabricSuffix(id string) string {
	if len(id) <= FabricSuffixLen {
		return id
	}
	return id[len(id)-FabricSuffixLen:]
}

// InstanceToCluster returns the GPU memory cluster the instance belongs to.
func (r *Resolver) InstanceToCluster(instanceID string) (string, bool) {
	m, ok := r.memberOf[instanceID]
	if !ok {
		return "", false
	}
	return m.ClusterID, true
}

// ClusterToFabric returns the fabric with the cluster's fabric id, falling
// back to the first fabric whose id suffix matches.
func (r *Resolver) ClusterToFabric(clusterID string) (inventory.Fabric, bool) {
	c, ok := r.clusters[clusterID]
	if !ok || c.FabricID == "" {
		return inventory.Fabric{}, false
	}
	if f, ok := r.fabricByID[c.FabricID]; ok {
		return f, true
	}
	f, ok := r.fabricBySuffix[FabricSuffix(c.FabricID)]
	return f, ok
}

// InstanceCapacityState returns the capacity-topology host state of the
// instance, or NotAvailable.
func (r *Resolver) InstanceCapacityState(instanceID string) string {
	h, ok := r.capacity[instanceID]
	if !ok || h.State == "" {
		return NotAvailable
	}
	return h.State
}

// InstanceNode returns the Kubernetes node backed by the instance.
func (r *Resolver) InstanceNode(instanceID string) (inventory.NodeState, bool) {
	n, ok := r.nodes[instanceID]
	return n, ok
}

// ResourceAnnouncements returns the tickets recorded for the instance
// followed by those for the cluster, without duplicates. Either id may be
// empty.
func (r *Resolver) ResourceAnnouncements(instanceID, clusterID string) []string {
	var out []string
	for _, t := range r.lookup.InstanceTickets(instanceID) {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	for _, t := range r.lookup.ClusterTickets(clusterID) {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// InstanceView is one instance with every join resolved. String fields whose
// join missed hold NotAvailable.
type InstanceView struct {
	ID                 string
	DisplayName        string
	State              string
	Shape              string
	AvailabilityDomain string
	FaultDomain        string

	ClusterID    string
	ClusterName  string
	ClusterState string
	FabricID     string
	FabricName   string
	FabricHealth string

	CapacityState string

	NodeName        string
	NodeReady       string
	NodeSchedulable string
	GPUPods         int

	Tickets []string
}

// View resolves one instance. Instances known only through cluster
// membership are resolved from the member record.
func (r *Resolver) View(instanceID string) (InstanceView, error) {
	in, isInstance := r.instances[instanceID]
	m, isMember := r.memberOf[instanceID]
	if !isInstance && !isMember {
		return InstanceView{}, ErrNotFound
	}

	v := InstanceView{
		ID:                 instanceID,
		DisplayName:        orNA(in.DisplayName),
		State:              orNA(in.State),
		Shape:              orNA(in.Shape),
		AvailabilityDomain: orNA(in.AvailabilityDomain),
		FaultDomain:        orNA(in.FaultDomain),
		ClusterID:          NotAvailable,
		ClusterName:        NotAvailable,
		ClusterState:       NotAvailable,
		FabricID:           NotAvailable,
		FabricName:         NotAvailable,
		FabricHealth:       NotAvailable,
		CapacityState:      r.InstanceCapacityState(instanceID),
		NodeName:           NotAvailable,
		NodeReady:          NotAvailable,
		NodeSchedulable:    NotAvailable,
	}
	if !isInstance {
		v.DisplayName = orNA(m.DisplayName)
		v.State = orNA(m.State)
		v.FaultDomain = orNA(m.FaultDomain)
	}

	var clusterID string
	if isMember {
		clusterID = m.ClusterID
		v.ClusterID = orNA(clusterID)
		if c, ok := r.clusters[clusterID]; ok {
			v.ClusterName = orNA(c.DisplayName)
			v.ClusterState = orNA(c.State)
		}
		if f, ok := r.ClusterToFabric(clusterID); ok {
			v.FabricID = orNA(f.ID)
			v.FabricName = orNA(f.DisplayName)
			v.FabricHealth = orNA(f.Health)
		}
	}

	if n, ok := r.InstanceNode(instanceID); ok {
		v.NodeName = orNA(n.Name)
		v.NodeReady = orNA(n.Ready)
		v.NodeSchedulable = "no"
		if n.Schedulable {
			v.NodeSchedulable = "yes"
		}
		v.GPUPods = n.GPUPods
	}

	v.Tickets = r.ResourceAnnouncements(instanceID, clusterID)
	return v, nil
}

// Views resolves every known instance, sorted by display name then id.
func (r *Resolver) Views() []InstanceView {
	out := make([]InstanceView, 0, len(r.instanceOrder))
	for _, id := range r.instanceOrder {
		v, err := r.View(id)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b InstanceView) int {
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// ClusterView summarises one GPU memory cluster.
type ClusterView struct {
	ID           string
	DisplayName  string
	State        string
	Size         int
	Members      int
	FabricID     string
	FabricName   string
	FabricHealth string
	Tickets      []string
}

// ClusterViews resolves every cluster, sorted by display name then id.
func (r *Resolver) ClusterViews() []ClusterView {
	out := make([]ClusterView, 0, len(r.clusterOrder))
	for _, id := range r.clusterOrder {
		c := r.clusters[id]
		v := ClusterView{
			ID:           c.ID,
			DisplayName:  orNA(c.DisplayName),
			State:        orNA(c.State),
			Size:         c.Size,
			Members:      r.memberCount[c.ID],
			FabricID:     NotAvailable,
			FabricName:   NotAvailable,
			FabricHealth: NotAvailable,
			Tickets:      r.ResourceAnnouncements("", c.ID),
		}
		if f, ok := r.ClusterToFabric(c.ID); ok {
			v.FabricID = orNA(f.ID)
			v.FabricName = orNA(f.DisplayName)
			v.FabricHealth = orNA(f.Health)
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b ClusterView) int {
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}
