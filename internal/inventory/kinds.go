package inventory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/smileynet/gpufleet/internal/flatcache"
	"github.com/smileynet/gpufleet/internal/oci"
)

// buildRegistry registers every kind in refresh order. Clusters precede
// members because member refresh reads the cluster ids.
func (m *Manager) buildRegistry() *Registry {
	r := NewRegistry()
	add := func(e flatcache.Entry, ttl time.Duration, fn RefreshFunc) {
		e.TTL = ttl
		m.tables[e.Name] = e
		m.order = append(m.order, e.Name)
		r.Register(e.Name, fn)
	}

	add(fabricEntry, m.ttl, reportOnly(m.Fabrics))
	add(clusterEntry, m.ttl, reportOnly(m.Clusters))
	add(memberEntry, m.ttl, reportOnly(m.ClusterMembers))
	add(instanceConfigEntry, m.ttl, reportOnly(m.InstanceConfigs))
	add(computeClusterEntry, m.ttl, reportOnly(m.ComputeClusters))
	add(instanceEntry, m.ttl, reportOnly(m.Instances))
	if m.nodes != nil {
		add(nodeStateEntry, m.nodeTTL, reportOnly(m.NodeStates))
	}
	add(topologyEntry, m.ttl, reportOnly(m.CapacityTopology))
	add(announcementEntry, m.ttl, reportOnly(m.Announcements))
	add(gatewayEntry, m.ttl, reportOnly(m.Gateways))
	return r
}

// reportOnly adapts a typed refresh method to a RefreshFunc.
func reportOnly[T any](fn func(context.Context, bool) ([]T, Report, error)) RefreshFunc {
	return func(ctx context.Context, force bool) (Report, error) {
		_, rep, err := fn(ctx, force)
		return rep, err
	}
}

func table[T any](m *Manager, e flatcache.Entry, c flatcache.Codec[T]) *flatcache.Table[T] {
	if configured, ok := m.tables[e.Name]; ok {
		e = configured
	}
	return flatcache.NewTable(m.store, e, c)
}

// Fabrics returns GPU memory fabrics.
func (m *Manager) Fabrics(ctx context.Context, force bool) ([]Fabric, Report, error) {
	return refresh(ctx, m, table(m, fabricEntry, fabricCodec), force, func(ctx context.Context) ([]Fabric, int, error) {
		raw, err := m.cloud.ListGPUMemoryFabrics(ctx)
		if err != nil {
			return nil, 0, err
		}
		out := make([]Fabric, 0, len(raw))
		for _, f := range raw {
			out = append(out, Fabric{
				ID:             f.ID,
				DisplayName:    f.DisplayName,
				State:          f.LifecycleState,
				Health:         f.FabricHealth,
				HealthyHosts:   f.HealthyHostCount,
				AvailableHosts: f.AvailableHostCount,
				TotalHosts:     f.TotalHostCount,
				HPCIslandID:    f.HPCIslandID,
			})
		}
		return out, 0, nil
	})
}

// Clusters returns GPU memory clusters. The list call omits size and
// references, so each cluster is fetched individually on the shared pool.
func (m *Manager) Clusters(ctx context.Context, force bool) ([]GPUCluster, Report, error) {
	return refresh(ctx, m, table(m, clusterEntry, clusterCodec), force, func(ctx context.Context) ([]GPUCluster, int, error) {
		list, err := m.cloud.ListGPUMemoryClusters(ctx)
		if err != nil {
			return nil, 0, err
		}
		ids := uniqueIDs(list, func(c oci.GPUMemoryCluster) string { return c.ID })
		items, failed, err := fanOut(ctx, m, KindClusters, ids, func(ctx context.Context, id string) ([]GPUCluster, error) {
			c, err := m.cloud.GetGPUMemoryCluster(ctx, id)
			if err != nil {
				return nil, err
			}
			return []GPUCluster{{
				ID:                 c.ID,
				DisplayName:        c.DisplayName,
				State:              c.LifecycleState,
				AvailabilityDomain: c.AvailabilityDomain,
				Size:               c.Size,
				FabricID:           c.FabricID,
				InstanceConfigID:   c.InstanceConfigurationID,
				ComputeClusterID:   c.ComputeClusterID,
			}}, nil
		})
		if err != nil {
			return nil, failed, err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		return items, failed, nil
	})
}

// ClusterMembers returns the instance membership of every GPU memory cluster.
// Cached membership is refetched while any cached cluster is transitional, or
// when the cluster cache was written after it.
func (m *Manager) ClusterMembers(ctx context.Context, force bool) ([]ClusterMember, Report, error) {
	force = force || m.membersOutdated()
	return refresh(ctx, m, table(m, memberEntry, memberCodec), force, func(ctx context.Context) ([]ClusterMember, int, error) {
		clusters, _, err := m.Clusters(ctx, false)
		if err != nil {
			return nil, 0, err
		}
		ids := uniqueIDs(clusters, func(c GPUCluster) string { return c.ID })
		items, failed, err := fanOut(ctx, m, KindClusterMembers, ids, func(ctx context.Context, clusterID string) ([]ClusterMember, error) {
			raw, err := m.cloud.ListGPUMemoryClusterInstances(ctx, clusterID)
			if err != nil {
				return nil, err
			}
			out := make([]ClusterMember, 0, len(raw))
			for _, in := range raw {
				out = append(out, ClusterMember{
					InstanceID:  in.InstanceID,
					ClusterID:   clusterID,
					DisplayName: in.DisplayName,
					State:       in.LifecycleState,
					FaultDomain: in.FaultDomain,
				})
			}
			return out, nil
		})
		if err != nil {
			return nil, failed, err
		}
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].ClusterID != items[j].ClusterID {
				return items[i].ClusterID < items[j].ClusterID
			}
			return items[i].InstanceID < items[j].InstanceID
		})
		return items, failed, nil
	})
}

// membersOutdated reports whether cached membership may lag the cluster cache.
func (m *Manager) membersOutdated() bool {
	ce, me := m.tables[KindClusters], m.tables[KindClusterMembers]
	clusterAge, ok := m.store.Age(ce)
	if !ok {
		return false
	}
	if memberAge, ok := m.store.Age(me); ok && clusterAge < memberAge {
		return true
	}
	records, err := m.store.Read(ce)
	return err == nil && clusterEntry.Stale(records)
}

// InstanceConfigs returns instance configurations.
func (m *Manager) InstanceConfigs(ctx context.Context, force bool) ([]InstanceConfig, Report, error) {
	return refresh(ctx, m, table(m, instanceConfigEntry, instanceConfigCodec), force, func(ctx context.Context) ([]InstanceConfig, int, error) {
		raw, err := m.cloud.ListInstanceConfigurations(ctx)
		if err != nil {
			return nil, 0, err
		}
		out := make([]InstanceConfig, 0, len(raw))
		for _, c := range raw {
			out = append(out, InstanceConfig{ID: c.ID, DisplayName: c.DisplayName, TimeCreated: c.TimeCreated})
		}
		return out, 0, nil
	})
}

// ComputeClusters returns compute clusters.
func (m *Manager) ComputeClusters(ctx context.Context, force bool) ([]ComputeCluster, Report, error) {
	return refresh(ctx, m, table(m, computeClusterEntry, computeClusterCodec), force, func(ctx context.Context) ([]ComputeCluster, int, error) {
		raw, err := m.cloud.ListComputeClusters(ctx)
		if err != nil {
			return nil, 0, err
		}
		out := make([]ComputeCluster, 0, len(raw))
		for _, c := range raw {
			out = append(out, ComputeCluster{
				ID:                 c.ID,
				DisplayName:        c.DisplayName,
				State:              c.LifecycleState,
				AvailabilityDomain: c.AvailabilityDomain,
			})
		}
		return out, 0, nil
	})
}

// Instances returns GPU-shaped instances that are not terminated.
func (m *Manager) Instances(ctx context.Context, force bool) ([]Instance, Report, error) {
	return refresh(ctx, m, table(m, instanceEntry, instanceCodec), force, func(ctx context.Context) ([]Instance, int, error) {
		raw, err := m.cloud.ListInstances(ctx)
		if err != nil {
			return nil, 0, err
		}
		out := make([]Instance, 0, len(raw))
		for _, in := range raw {
			if !IsGPUShape(in.Shape) || in.LifecycleState == "TERMINATED" {
				continue
			}
			out = append(out, Instance{
				ID:                 in.ID,
				DisplayName:        in.DisplayName,
				State:              in.LifecycleState,
				Shape:              in.Shape,
				AvailabilityDomain: in.AvailabilityDomain,
				FaultDomain:        in.FaultDomain,
				TimeCreated:        in.TimeCreated,
			})
		}
		return out, 0, nil
	})
}

// NodeStates returns Kubernetes node state.
func (m *Manager) NodeStates(ctx context.Context, force bool) ([]NodeState, Report, error) {
	return refresh(ctx, m, table(m, nodeStateEntry, nodeStateCodec), force, func(ctx context.Context) ([]NodeState, int, error) {
		if m.nodes == nil {
			return nil, 0, errNoNodes
		}
		raw, err := m.nodes.ListNodeStates(ctx)
		if err != nil {
			return nil, 0, err
		}
		out := make([]NodeState, 0, len(raw))
		for _, n := range raw {
			out = append(out, NodeState{
				Name:        n.Name,
				InstanceID:  n.InstanceID,
				Ready:       n.Ready,
				Schedulable: n.Schedulable,
				GPUs:        n.GPUs,
				GPUPods:     n.GPUPods,
			})
		}
		return out, 0, nil
	})
}

// CapacityTopology returns the bare metal hosts of every capacity topology.
func (m *Manager) CapacityTopology(ctx context.Context, force bool) ([]TopologyHost, Report, error) {
	return refresh(ctx, m, table(m, topologyEntry, topologyCodec), force, func(ctx context.Context) ([]TopologyHost, int, error) {
		topologies, err := m.cloud.ListCapacityTopologies(ctx)
		if err != nil {
			return nil, 0, err
		}
		ids := uniqueIDs(topologies, func(t oci.CapacityTopology) string { return t.ID })
		return fanOut(ctx, m, KindCapacityTopology, ids, func(ctx context.Context, topologyID string) ([]TopologyHost, error) {
			raw, err := m.cloud.ListBareMetalHosts(ctx, topologyID)
			if err != nil {
				return nil, err
			}
			out := make([]TopologyHost, 0, len(raw))
			for _, h := range raw {
				out = append(out, TopologyHost{
					HostID:         h.ID,
					InstanceID:     h.InstanceID,
					TopologyID:     topologyID,
					State:          h.LifecycleState,
					Details:        h.LifecycleDetails,
					HPCIslandID:    h.HPCIslandID,
					NetworkBlockID: h.NetworkBlockID,
					LocalBlockID:   h.LocalBlockID,
				})
			}
			return out, nil
		})
	})
}

// Announcements returns the announcement list.
func (m *Manager) Announcements(ctx context.Context, force bool) ([]Announcement, Report, error) {
	return refresh(ctx, m, table(m, announcementEntry, announcementCodec), force, func(ctx context.Context) ([]Announcement, int, error) {
		raw, err := m.cloud.ListAnnouncements(ctx)
		if err != nil {
			return nil, 0, err
		}
		out := make([]Announcement, 0, len(raw))
		for _, a := range raw {
			out = append(out, Announcement{
				ID:      a.ID,
				Ticket:  a.ReferenceTicketNumber,
				Type:    a.AnnouncementType,
				State:   a.LifecycleState,
				Summary: a.Summary,
				TimeOne: a.TimeOneValue,
			})
		}
		return out, 0, nil
	})
}

// Gateways returns VCN gateways of every type, one list call per type.
func (m *Manager) Gateways(ctx context.Context, force bool) ([]Gateway, Report, error) {
	return refresh(ctx, m, table(m, gatewayEntry, gatewayCodec), force, func(ctx context.Context) ([]Gateway, int, error) {
		types := make([]string, 0, len(oci.GatewayTypes))
		for t := range oci.GatewayTypes {
			types = append(types, t)
		}
		sort.Strings(types)
		items, failed, err := fanOut(ctx, m, KindGateways, types, func(ctx context.Context, gwType string) ([]Gateway, error) {
			raw, err := m.cloud.ListGateways(ctx, gwType)
			if err != nil {
				return nil, err
			}
			out := make([]Gateway, 0, len(raw))
			for _, g := range raw {
				out = append(out, Gateway{
					ID:          g.ID,
					Type:        g.Type,
					DisplayName: g.DisplayName,
					State:       g.LifecycleState,
					VCNID:       g.VCNID,
				})
			}
			return out, nil
		})
		if err != nil {
			return nil, failed, err
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].Type != items[j].Type {
				return items[i].Type < items[j].Type
			}
			return items[i].ID < items[j].ID
		})
		return items, failed, nil
	})
}

// IsGPUShape reports whether a compute shape carries GPUs.
func IsGPUShape(shape string) bool {
	return strings.Contains(strings.ToUpper(shape), ".GPU")
}

// uniqueIDs extracts non-empty ids in first-seen order.
func uniqueIDs[T any](items []T, id func(T) string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		v := id(it)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
