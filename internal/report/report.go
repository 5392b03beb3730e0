// Package report renders joined inventory views as terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/smileynet/gpufleet/internal/announce"
	"github.com/smileynet/gpufleet/internal/inventory"
	"github.com/smileynet/gpufleet/internal/resolve"
)

// State color groups.
var (
	colorOK      = lipgloss.AdaptiveColor{Light: "2", Dark: "10"}
	colorPending = lipgloss.AdaptiveColor{Light: "3", Dark: "11"}
	colorBad     = lipgloss.AdaptiveColor{Light: "1", Dark: "9"}
	colorDim     = lipgloss.AdaptiveColor{Light: "240", Dark: "245"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "4", Dark: "12"}
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(16)
)

// stateColors maps lifecycle, readiness and health values to a color group.
var stateColors = map[string]lipgloss.AdaptiveColor{
	"ACTIVE":       colorOK,
	"RUNNING":      colorOK,
	"AVAILABLE":    colorOK,
	"HEALTHY":      colorOK,
	"True":         colorOK,
	"yes":          colorOK,
	"CREATING":     colorPending,
	"UPDATING":     colorPending,
	"SCALING":      colorPending,
	"PROVISIONING": colorPending,
	"STARTING":     colorPending,
	"STOPPING":     colorPending,
	"DELETING":     colorPending,
	"no":           colorPending,
	"FAILED":       colorBad,
	"DEGRADED":     colorBad,
	"UNHEALTHY":    colorBad,
	"UNAVAILABLE":  colorBad,
	"STOPPED":      colorBad,
	"False":        colorBad,
	"Unknown":      colorBad,
}

// StateBadge colors a state value by its group. Unknown values and N/A are
// dimmed.
func StateBadge(state string) string {
	c, ok := stateColors[state]
	if !ok {
		c = colorDim
	}
	return lipgloss.NewStyle().Foreground(c).Render(state)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func render(w io.Writer, t *table.Table) error {
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func tickets(ts []string) string {
	if len(ts) == 0 {
		return "-"
	}
	return strings.Join(ts, ",")
}

// Instances renders one row per instance view.
func Instances(w io.Writer, views []resolve.InstanceView) error {
	t := newTable("NAME", "INSTANCE", "STATE", "SHAPE", "CLUSTER", "FABRIC", "CAPACITY", "NODE", "READY", "TICKETS")
	for _, v := range views {
		t.Row(
			v.DisplayName,
			v.ID,
			StateBadge(v.State),
			v.Shape,
			v.ClusterName,
			v.FabricName,
			StateBadge(v.CapacityState),
			v.NodeName,
			StateBadge(v.NodeReady),
			tickets(v.Tickets),
		)
	}
	return render(w, t)
}

// Instance renders every field of one instance view.
func Instance(w io.Writer, v resolve.InstanceView) error {
	rows := []struct{ label, value string }{
		{"Name", v.DisplayName},
		{"Instance", v.ID},
		{"State", StateBadge(v.State)},
		{"Shape", v.Shape},
		{"AD", v.AvailabilityDomain},
		{"Fault domain", v.FaultDomain},
		{"Cluster", v.ClusterName},
		{"Cluster id", v.ClusterID},
		{"Cluster state", StateBadge(v.ClusterState)},
		{"Fabric", v.FabricName},
		{"Fabric id", v.FabricID},
		{"Fabric health", StateBadge(v.FabricHealth)},
		{"Capacity", StateBadge(v.CapacityState)},
		{"Node", v.NodeName},
		{"Node ready", StateBadge(v.NodeReady)},
		{"Schedulable", StateBadge(v.NodeSchedulable)},
		{"GPU pods", strconv.Itoa(v.GPUPods)},
		{"Tickets", tickets(v.Tickets)},
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(labelStyle.Render(r.label) + r.value + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Clusters renders one row per GPU memory cluster.
func Clusters(w io.Writer, views []resolve.ClusterView) error {
	t := newTable("NAME", "CLUSTER", "STATE", "MEMBERS", "FABRIC", "HEALTH", "TICKETS")
	for _, v := range views {
		t.Row(
			v.DisplayName,
			v.ID,
			StateBadge(v.State),
			fmt.Sprintf("%d/%d", v.Members, v.Size),
			v.FabricName,
			StateBadge(v.FabricHealth),
			tickets(v.Tickets),
		)
	}
	return render(w, t)
}

// Announcements renders the indexed ACTIVE announcements.
func Announcements(w io.Writer, anns []announce.Announcement) error {
	t := newTable("TICKET", "TYPE", "START", "RESOURCES", "SUMMARY")
	for _, a := range anns {
		t.Row(a.ShortTicket, a.Type, a.TimeOne, strconv.Itoa(len(a.Affected)), a.Summary)
	}
	return render(w, t)
}

// CacheStatus renders the freshness of every kind.
func CacheStatus(w io.Writer, status []inventory.KindStatus) error {
	t := newTable("KIND", "STATE", "AGE", "TTL", "RECORDS")
	for _, s := range status {
		state, age, records := "missing", "-", "-"
		if s.Cached {
			state = "stale"
			if s.Fresh {
				state = "fresh"
			}
			age = s.Age.Truncate(time.Second).String()
			records = strconv.Itoa(s.Records)
		}
		t.Row(s.Kind, cacheBadge(state), age, s.TTL.String(), records)
	}
	return render(w, t)
}

func cacheBadge(state string) string {
	c := colorDim
	switch state {
	case "fresh":
		c = colorOK
	case "stale":
		c = colorPending
	}
	return lipgloss.NewStyle().Foreground(c).Render(state)
}
