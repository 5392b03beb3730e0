package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxPages bounds pagination so a misbehaving token cannot loop forever.
const maxPages = 1000

// GatewayTypes are the VCN gateway kinds listed by ListGateways, mapped to the
// CLI resource that lists them.
var GatewayTypes = map[string]string{
	"nat":      "nat-gateway",
	"internet": "internet-gateway",
	"service":  "service-gateway",
}

// Client issues read calls (and the few write calls the tool supports)
// against one compartment.
type Client struct {
	exec          Executor
	compartmentID string
	tenancyID     string
}

// NewClient creates a Client. Announcements are listed at the tenancy; an
// empty tenancyID falls back to the compartment.
func NewClient(exec Executor, compartmentID, tenancyID string) *Client {
	if tenancyID == "" {
		tenancyID = compartmentID
	}
	return &Client{exec: exec, compartmentID: compartmentID, tenancyID: tenancyID}
}

// ListGPUMemoryFabrics lists every GPU memory fabric in the compartment.
func (c *Client) ListGPUMemoryFabrics(ctx context.Context) ([]GPUMemoryFabric, error) {
	return listAll[GPUMemoryFabric](ctx, c.exec,
		"compute", "compute-gpu-memory-fabric", "list", "--compartment-id", c.compartmentID)
}

// ListGPUMemoryClusters lists GPU memory clusters. Detail fields are empty.
func (c *Client) ListGPUMemoryClusters(ctx context.Context) ([]GPUMemoryCluster, error) {
	return listAll[GPUMemoryCluster](ctx, c.exec,
		"compute", "compute-gpu-memory-cluster", "list", "--compartment-id", c.compartmentID)
}

// GetGPUMemoryCluster fetches one cluster with its size and references.
func (c *Client) GetGPUMemoryCluster(ctx context.Context, id string) (GPUMemoryCluster, error) {
	return getOne[GPUMemoryCluster](ctx, c.exec,
		"compute", "compute-gpu-memory-cluster", "get", "--compute-gpu-memory-cluster-id", id)
}

// ListGPUMemoryClusterInstances lists the instances that belong to a cluster.
func (c *Client) ListGPUMemoryClusterInstances(ctx context.Context, clusterID string) ([]GPUMemoryClusterInstance, error) {
	return listAll[GPUMemoryClusterInstance](ctx, c.exec,
		"compute", "compute-gpu-memory-cluster-instance", "list", "--compute-gpu-memory-cluster-id", clusterID)
}

// ListInstanceConfigurations lists instance configurations.
func (c *Client) ListInstanceConfigurations(ctx context.Context) ([]InstanceConfiguration, error) {
	return listAll[InstanceConfiguration](ctx, c.exec,
		"compute-management", "instance-configuration", "list", "--compartment-id", c.compartmentID)
}

// ListComputeClusters lists compute clusters.
func (c *Client) ListComputeClusters(ctx context.Context) ([]ComputeCluster, error) {
	return listAll[ComputeCluster](ctx, c.exec,
		"compute", "compute-cluster", "list", "--compartment-id", c.compartmentID)
}

// ListInstances lists compute instances.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	return listAll[Instance](ctx, c.exec,
		"compute", "instance", "list", "--compartment-id", c.compartmentID)
}

// ListCapacityTopologies lists capacity topologies.
func (c *Client) ListCapacityTopologies(ctx context.Context) ([]CapacityTopology, error) {
	return listAll[CapacityTopology](ctx, c.exec,
		"compute", "capacity-topology", "list", "--compartment-id", c.compartmentID)
}

// ListBareMetalHosts lists the hosts of one capacity topology.
func (c *Client) ListBareMetalHosts(ctx context.Context, topologyID string) ([]BareMetalHost, error) {
	return listAll[BareMetalHost](ctx, c.exec,
		"compute", "capacity-topology", "bare-metal-host", "list", "--capacity-topology-id", topologyID)
}

// ListAnnouncements lists announcements visible to the tenancy.
func (c *Client) ListAnnouncements(ctx context.Context) ([]AnnouncementSummary, error) {
	return listAll[AnnouncementSummary](ctx, c.exec,
		"announce", "announcements", "list", "--compartment-id", c.tenancyID)
}

// GetAnnouncement returns the raw detail payload of one announcement.
func (c *Client) GetAnnouncement(ctx context.Context, id string) ([]byte, error) {
	args := []string{"announce", "announcements", "get", "--announcement-id", id}
	out, err := c.exec.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if !json.Valid(out) {
		return nil, &DecodeError{Args: args, Err: fmt.Errorf("invalid JSON (%d bytes)", len(out))}
	}
	return out, nil
}

// ListGateways lists VCN gateways of one type ("nat", "internet", "service").
func (c *Client) ListGateways(ctx context.Context, gwType string) ([]Gateway, error) {
	resource, ok := GatewayTypes[gwType]
	if !ok {
		return nil, fmt.Errorf("oci: unknown gateway type %q", gwType)
	}
	gws, err := listAll[Gateway](ctx, c.exec,
		"network", resource, "list", "--compartment-id", c.compartmentID)
	if err != nil {
		return nil, err
	}
	for i := range gws {
		gws[i].Type = gwType
	}
	return gws, nil
}

// ResizeGPUMemoryCluster sets the target instance count of a cluster.
func (c *Client) ResizeGPUMemoryCluster(ctx context.Context, id string, size int) error {
	_, err := c.exec.Run(ctx,
		"compute", "compute-gpu-memory-cluster", "update",
		"--compute-gpu-memory-cluster-id", id,
		"--size", strconv.Itoa(size),
		"--force")
	return err
}

// listAll runs a list call, following opc-next-page tokens until exhausted.
func listAll[T any](ctx context.Context, exec Executor, args ...string) ([]T, error) {
	var (
		all  []T
		page string
		seen = make(map[string]bool)
	)
	for i := 0; i < maxPages; i++ {
		call := args
		if page != "" {
			call = append(append([]string(nil), args...), "--page", page)
		}
		out, err := exec.Run(ctx, call...)
		if err != nil {
			return nil, err
		}
		items, next, err := decodeList[T](out)
		if err != nil {
			return nil, &DecodeError{Args: args, Err: err}
		}
		all = append(all, items...)
		if next == "" || seen[next] {
			return all, nil
		}
		seen[next] = true
		page = next
	}
	return nil, fmt.Errorf("%w: %d pages of %s", ErrTooManyPages, maxPages, strings.Join(args, " "))
}

// getOne runs a get call and decodes its data object.
func getOne[T any](ctx context.Context, exec Executor, args ...string) (T, error) {
	var v T
	out, err := exec.Run(ctx, args...)
	if err != nil {
		return v, err
	}
	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return v, &DecodeError{Args: args, Err: err}
	}
	if len(env.Data) == 0 {
		return v, &DecodeError{Args: args, Err: fmt.Errorf("missing data")}
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, &DecodeError{Args: args, Err: err}
	}
	return v, nil
}

// decodeList accepts the list shapes the CLI prints: {"data": [...]},
// {"data": {"items": [...]}}, and empty output for an empty result.
func decodeList[T any](out []byte) ([]T, string, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, "", nil
	}
	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return nil, "", err
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, env.NextPage, nil
	}
	if data[0] == '{' {
		var p itemsPage
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, "", err
		}
		data = p.Items
		if len(data) == 0 {
			return nil, env.NextPage, nil
		}
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, "", err
	}
	return items, env.NextPage, nil
}
