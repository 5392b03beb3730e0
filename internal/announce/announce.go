// Package announce turns maintenance announcements into ticket lookups keyed
// by instance and GPU memory cluster id.
package announce

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ShortTicketLen is the number of reference-ticket characters kept for
// display and de-duplication.
const ShortTicketLen = 8

// Property names searched in a properties-shaped affected resource.
const (
	propResourceID       = "resourceId"
	propInstanceID       = "instanceId"
	propGPUMemoryCluster = "gpuMemoryCluster"
)

// ShortTicket truncates a reference ticket number to ShortTicketLen
// characters. Distinct tickets sharing a prefix collide.
func ShortTicket(ref string) string {
	r := []rune(ref)
	if len(r) <= ShortTicketLen {
		return ref
	}
	return string(r[:ShortTicketLen])
}

// AffectedResource is one entry of an announcement's affected-resources
// list. It is either ByProperties or Flat.
type AffectedResource interface {
	// InstanceIDs returns the instance ids the entry names.
	InstanceIDs() []string
	// ClusterIDs returns the GPU memory cluster ids the entry names.
	ClusterIDs() []string

	affected()
}

// Property is a name/value pair of a properties-shaped entry.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ByProperties is an entry that carries its identifiers in a properties list.
type ByProperties struct {
	Properties []Property
}

func (ByProperties) affected() {}

// InstanceIDs returns the values of resourceId and instanceId properties.
func (p ByProperties) InstanceIDs() []string {
	return p.values(propResourceID, propInstanceID)
}

// ClusterIDs returns the values of gpuMemoryCluster properties.
func (p ByProperties) ClusterIDs() []string {
	return p.values(propGPUMemoryCluster)
}

func (p ByProperties) values(names ...string) []string {
	var out []string
	for _, prop := range p.Properties {
		if prop.Value != "" && slices.Contains(names, prop.Name) && !slices.Contains(out, prop.Value) {
			out = append(out, prop.Value)
		}
	}
	return out
}

// Flat is an entry that carries its identifier as top-level fields.
type Flat struct {
	ResourceID   string
	InstanceID   string
	ResourceName string
}

func (Flat) affected() {}

// InstanceIDs returns resource-id, falling back to instance-id.
func (f Flat) InstanceIDs() []string {
	switch {
	case f.ResourceID != "":
		return []string{f.ResourceID}
	case f.InstanceID != "":
		return []string{f.InstanceID}
	default:
		return nil
	}
}

// ClusterIDs returns nothing; flat entries only name instances.
func (Flat) ClusterIDs() []string { return nil }

// Announcement is a parsed announcement detail.
type Announcement struct {
	ID          string
	Ticket      string
	ShortTicket string
	Type        string
	State       string
	Summary     string
	TimeOne     string
	Affected    []AffectedResource
}

// ErrEmptyDetail is returned by ParseDetail for an empty payload.
var ErrEmptyDetail = errors.New("announce: empty detail payload")

type detailPayload struct {
	ID                    string            `json:"id"`
	ReferenceTicketNumber string            `json:"reference-ticket-number"`
	AnnouncementType      string            `json:"announcement-type"`
	LifecycleState        string            `json:"lifecycle-state"`
	Summary               string            `json:"summary"`
	TimeOneValue          string            `json:"time-one-value"`
	AffectedResources     []json.RawMessage `json:"affected-resources"`
}

type rawAffected struct {
	Properties   []Property `json:"properties"`
	ResourceID   string     `json:"resource-id"`
	InstanceID   string     `json:"instance-id"`
	ResourceName string     `json:"resource-name"`
}

// ParseDetail decodes an announcement detail as printed by the CLI, either
// wrapped in {"data": ...} or bare. Affected-resource entries that match
// neither shape are dropped.
func ParseDetail(raw []byte) (Announcement, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Announcement{}, ErrEmptyDetail
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Announcement{}, fmt.Errorf("announce: decoding detail: %w", err)
	}
	body := raw
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		body = d
	}

	var p detailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Announcement{}, fmt.Errorf("announce: decoding detail: %w", err)
	}

	a := Announcement{
		ID:          p.ID,
		Ticket:      p.ReferenceTicketNumber,
		ShortTicket: ShortTicket(p.ReferenceTicketNumber),
		Type:        p.AnnouncementType,
		State:       p.LifecycleState,
		Summary:     p.Summary,
		TimeOne:     p.TimeOneValue,
	}
	for _, entry := range p.AffectedResources {
		if r, ok := classify(entry); ok {
			a.Affected = append(a.Affected, r)
		}
	}
	return a, nil
}

// classify picks the variant of one affected-resource entry. An entry with a
// properties list is ByProperties even if it also has flat fields.
func classify(entry json.RawMessage) (AffectedResource, bool) {
	var r rawAffected
	if err := json.Unmarshal(entry, &r); err != nil {
		return nil, false
	}
	switch {
	case len(r.Properties) > 0:
		return ByProperties{Properties: r.Properties}, true
	case r.ResourceID != "" || r.InstanceID != "":
		return Flat{ResourceID: r.ResourceID, InstanceID: r.InstanceID, ResourceName: r.ResourceName}, true
	default:
		return nil, false
	}
}

// Lookup maps resource ids to the short tickets of ACTIVE announcements
// affecting them. Ticket lists preserve first-seen order and hold no
// duplicates.
type Lookup struct {
	ByInstance map[string][]string
	ByCluster  map[string][]string
	// Active holds the indexed announcements in list order.
	Active []Announcement
}

// NewLookup returns an empty Lookup.
func NewLookup() Lookup {
	return Lookup{
		ByInstance: make(map[string][]string),
		ByCluster:  make(map[string][]string),
	}
}

// Index adds a's short ticket under every resource it affects.
func (l *Lookup) Index(a Announcement) {
	for _, r := range a.Affected {
		for _, id := range r.InstanceIDs() {
			addTicket(l.ByInstance, id, a.ShortTicket)
		}
		for _, id := range r.ClusterIDs() {
			addTicket(l.ByCluster, id, a.ShortTicket)
		}
	}
	l.Active = append(l.Active, a)
}

// InstanceTickets returns the tickets recorded for an instance.
func (l Lookup) InstanceTickets(id string) []string { return l.ByInstance[id] }

// ClusterTickets returns the tickets recorded for a GPU memory cluster.
func (l Lookup) ClusterTickets(id string) []string { return l.ByCluster[id] }

func addTicket(m map[string][]string, id, ticket string) {
	if id == "" || ticket == "" || slices.Contains(m[id], ticket) {
		return
	}
	m[id] = append(m[id], ticket)
}
