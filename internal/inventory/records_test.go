package inventory

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/smileynet/gpufleet/internal/flatcache"
)

func TestCodecs_RejectMalformedNumbers(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		dec  func() bool
	}{
		{name: "fabric bad count", dec: func() bool {
			_, ok := fabricCodec.Decode(flatcache.Record{"f", "", "", "", "x", "1", "1", ""})
			return ok
		}},
		{name: "cluster bad size", dec: func() bool {
			_, ok := clusterCodec.Decode(flatcache.Record{"c", "", "", "", "big", "", "", ""})
			return ok
		}},
		{name: "node bad bool", dec: func() bool {
			_, ok := nodeStateCodec.Decode(flatcache.Record{"n", "", "True", "maybe", "8", "0"})
			return ok
		}},
		{name: "node valid", ok: true, dec: func() bool {
			_, ok := nodeStateCodec.Decode(flatcache.Record{"n", "i", "True", "false", "8", "0"})
			return ok
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dec(); got != tt.ok {
				t.Errorf("Decode ok = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestCodecs_ColumnCountsMatchEntries(t *testing.T) {
	tests := []struct {
		entry flatcache.Entry
		rec   flatcache.Record
	}{
		{fabricEntry, fabricCodec.Encode(Fabric{})},
		{clusterEntry, clusterCodec.Encode(GPUCluster{})},
		{memberEntry, memberCodec.Encode(ClusterMember{})},
		{instanceConfigEntry, instanceConfigCodec.Encode(InstanceConfig{})},
		{computeClusterEntry, computeClusterCodec.Encode(ComputeCluster{})},
		{instanceEntry, instanceCodec.Encode(Instance{})},
		{nodeStateEntry, nodeStateCodec.Encode(NodeState{})},
		{topologyEntry, topologyCodec.Encode(TopologyHost{})},
		{announcementEntry, announcementCodec.Encode(Announcement{})},
		{gatewayEntry, gatewayCodec.Encode(Gateway{})},
	}
	for _, tt := range tests {
		if len(tt.rec) != len(tt.entry.Columns) {
			t.Errorf("%s: encoded %d fields, entry has %d columns", tt.entry.Name, len(tt.rec), len(tt.entry.Columns))
		}
	}
}

func TestTopologyHost_RoundTrip(t *testing.T) {
	h := TopologyHost{HostID: "h", InstanceID: "i", TopologyID: "t", State: "DEGRADED", Details: "nvlink|down",
		HPCIslandID: "isl", NetworkBlockID: "nb", LocalBlockID: "lb"}
	got, ok := topologyCodec.Decode(topologyCodec.Encode(h))
	if !ok {
		t.Fatal("Decode rejected encoded host")
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSoftInvalidation(t *testing.T) {
	tests := []struct {
		name  string
		entry flatcache.Entry
		rec   flatcache.Record
		want  bool
	}{
		{"cluster scaling", clusterEntry, clusterCodec.Encode(GPUCluster{State: "SCALING"}), true},
		{"cluster active", clusterEntry, clusterCodec.Encode(GPUCluster{State: "ACTIVE"}), false},
		{"instance provisioning", instanceEntry, instanceCodec.Encode(Instance{State: "PROVISIONING"}), true},
		{"instance running", instanceEntry, instanceCodec.Encode(Instance{State: "RUNNING"}), false},
		{"fabric creating", fabricEntry, fabricCodec.Encode(Fabric{State: "CREATING"}), true},
		{"member attaching", memberEntry, memberCodec.Encode(ClusterMember{State: "ATTACHING"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Stale([]flatcache.Record{tt.rec}); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}
