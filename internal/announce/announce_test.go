package announce

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDetail_PropertiesShape(t *testing.T) {
	// Given: a detail whose affected resource carries a properties list
	raw := []byte(`{"data":{
		"id":"ann-1",
		"reference-ticket-number":"ABCDEFGH-1234",
		"lifecycle-state":"ACTIVE",
		"affected-resources":[{"properties":[
			{"name":"resourceId","value":"i-123"},
			{"name":"gpuMemoryCluster","value":"gmc-1"},
			{"name":"faultDomain","value":"FD-1"}
		]}]
	}}`)

	// When: parsing it
	a, err := ParseDetail(raw)
	if err != nil {
		t.Fatalf("ParseDetail() error = %v", err)
	}

	// Then: the instance and cluster ids come from the properties
	if a.ShortTicket != "ABCDEFGH" {
		t.Errorf("ShortTicket = %q, want ABCDEFGH", a.ShortTicket)
	}
	if len(a.Affected) != 1 {
		t.Fatalf("Affected = %d entries, want 1", len(a.Affected))
	}
	if _, ok := a.Affected[0].(ByProperties); !ok {
		t.Errorf("Affected[0] = %T, want ByProperties", a.Affected[0])
	}
	if diff := cmp.Diff([]string{"i-123"}, a.Affected[0].InstanceIDs()); diff != "" {
		t.Errorf("InstanceIDs() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"gmc-1"}, a.Affected[0].ClusterIDs()); diff != "" {
		t.Errorf("ClusterIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDetail_FlatShape(t *testing.T) {
	// Given: a bare detail whose affected resource uses flat fields
	raw := []byte(`{
		"id":"ann-2",
		"reference-ticket-number":"ABCDEFGH-1234",
		"lifecycle-state":"ACTIVE",
		"affected-resources":[{"resource-id":"i-123","resource-name":"gpu-node-1"}]
	}`)

	// When: parsing it
	a, err := ParseDetail(raw)
	if err != nil {
		t.Fatalf("ParseDetail() error = %v", err)
	}

	// Then: extraction matches the properties shape
	want := []AffectedResource{Flat{ResourceID: "i-123", ResourceName: "gpu-node-1"}}
	if diff := cmp.Diff(want, a.Affected); diff != "" {
		t.Errorf("Affected mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"i-123"}, a.Affected[0].InstanceIDs()); diff != "" {
		t.Errorf("InstanceIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDetail_EntryVariants(t *testing.T) {
	tests := []struct {
		name      string
		entry     string
		instances []string
		clusters  []string
		skipped   bool
	}{
		{name: "instanceId property", entry: `{"properties":[{"name":"instanceId","value":"i-9"}]}`, instances: []string{"i-9"}},
		{name: "cluster only", entry: `{"properties":[{"name":"gpuMemoryCluster","value":"gmc-9"}]}`, clusters: []string{"gmc-9"}},
		{name: "flat instance-id", entry: `{"instance-id":"i-7"}`, instances: []string{"i-7"}},
		{name: "resource-id wins over instance-id", entry: `{"resource-id":"i-1","instance-id":"i-2"}`, instances: []string{"i-1"}},
		{name: "properties win over flat", entry: `{"resource-id":"i-1","properties":[{"name":"resourceId","value":"i-3"}]}`, instances: []string{"i-3"}},
		{name: "neither shape", entry: `{"resource-name":"orphan"}`, skipped: true},
		{name: "not an object", entry: `"i-123"`, skipped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(`{"id":"a","reference-ticket-number":"T","affected-resources":[` + tt.entry + `]}`)
			a, err := ParseDetail(raw)
			if err != nil {
				t.Fatalf("ParseDetail() error = %v", err)
			}
			if tt.skipped {
				if len(a.Affected) != 0 {
					t.Errorf("Affected = %v, want none", a.Affected)
				}
				return
			}
			if len(a.Affected) != 1 {
				t.Fatalf("Affected = %d entries, want 1", len(a.Affected))
			}
			if diff := cmp.Diff(tt.instances, a.Affected[0].InstanceIDs()); diff != "" {
				t.Errorf("InstanceIDs() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.clusters, a.Affected[0].ClusterIDs()); diff != "" {
				t.Errorf("ClusterIDs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDetail_Errors(t *testing.T) {
	if _, err := ParseDetail([]byte("  \n")); !errors.Is(err, ErrEmptyDetail) {
		t.Errorf("empty payload error = %v, want ErrEmptyDetail", err)
	}
	if _, err := ParseDetail([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestShortTicket(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"ABC", "ABC"},
		{"ABCDEFGH", "ABCDEFGH"},
		{"ABCDEFGHIJ", "ABCDEFGH"},
	}
	for _, tt := range tests {
		if got := ShortTicket(tt.in); got != tt.want {
			t.Errorf("ShortTicket(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookup_IndexDeduplicates(t *testing.T) {
	// Given: two announcements whose tickets share an 8-character prefix
	l := NewLookup()
	first := Announcement{ShortTicket: ShortTicket("ABCDEFGH-1"), Affected: []AffectedResource{
		Flat{ResourceID: "i-1"},
		ByProperties{Properties: []Property{{Name: "resourceId", Value: "i-1"}, {Name: "gpuMemoryCluster", Value: "gmc-1"}}},
	}}
	second := Announcement{ShortTicket: ShortTicket("ABCDEFGH-2"), Affected: []AffectedResource{Flat{ResourceID: "i-1"}}}
	third := Announcement{ShortTicket: "ZZZ", Affected: []AffectedResource{Flat{ResourceID: "i-1"}}}

	// When: indexing all three
	l.Index(first)
	l.Index(second)
	l.Index(third)

	// Then: the colliding prefix is recorded once and order is first-seen
	if diff := cmp.Diff([]string{"ABCDEFGH", "ZZZ"}, l.InstanceTickets("i-1")); diff != "" {
		t.Errorf("InstanceTickets(i-1) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ABCDEFGH"}, l.ClusterTickets("gmc-1")); diff != "" {
		t.Errorf("ClusterTickets(gmc-1) mismatch (-want +got):\n%s", diff)
	}
	if len(l.Active) != 3 {
		t.Errorf("Active = %d, want 3", len(l.Active))
	}
	if got := l.InstanceTickets("i-unknown"); got != nil {
		t.Errorf("InstanceTickets(unknown) = %v, want nil", got)
	}
}
