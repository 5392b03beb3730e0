package oci

import "encoding/json"

// The structs below mirror the JSON the oci CLI prints. Only the fields the
// inventory uses are declared.

// GPUMemoryFabric is a physical GPU interconnect grouping.
type GPUMemoryFabric struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display-name"`
	LifecycleState     string `json:"lifecycle-state"`
	FabricHealth       string `json:"fabric-health"`
	HealthyHostCount   int    `json:"healthy-host-count"`
	AvailableHostCount int    `json:"available-host-count"`
	TotalHostCount     int    `json:"total-host-count"`
	HPCIslandID        string `json:"compute-hpc-island-id"`
}

// GPUMemoryCluster is a logical set of instances sharing a fabric.
// List responses omit Size, FabricID, InstanceConfigurationID and
// ComputeClusterID; the get call fills them in.
type GPUMemoryCluster struct {
	ID                      string `json:"id"`
	DisplayName             string `json:"display-name"`
	LifecycleState          string `json:"lifecycle-state"`
	AvailabilityDomain      string `json:"availability-domain"`
	Size                    int    `json:"size"`
	FabricID                string `json:"gpu-memory-fabric-id"`
	InstanceConfigurationID string `json:"instance-configuration-id"`
	ComputeClusterID        string `json:"compute-cluster-id"`
}

// GPUMemoryClusterInstance is one instance membership of a GPU memory cluster.
type GPUMemoryClusterInstance struct {
	InstanceID     string `json:"id"`
	DisplayName    string `json:"display-name"`
	LifecycleState string `json:"lifecycle-state"`
	FaultDomain    string `json:"fault-domain"`
}

// InstanceConfiguration is a launch template for cluster instances.
type InstanceConfiguration struct {
	ID          string `json:"id"`
	DisplayName string `json:"display-name"`
	TimeCreated string `json:"time-created"`
}

// ComputeCluster is a placement group for RDMA-connected hosts.
type ComputeCluster struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display-name"`
	LifecycleState     string `json:"lifecycle-state"`
	AvailabilityDomain string `json:"availability-domain"`
}

// Instance is a compute instance.
type Instance struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display-name"`
	LifecycleState     string `json:"lifecycle-state"`
	Shape              string `json:"shape"`
	AvailabilityDomain string `json:"availability-domain"`
	FaultDomain        string `json:"fault-domain"`
	TimeCreated        string `json:"time-created"`
}

// CapacityTopology groups the bare metal hosts of a dedicated capacity pool.
type CapacityTopology struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display-name"`
	LifecycleState string `json:"lifecycle-state"`
}

// BareMetalHost is a physical host as reported by a capacity topology.
type BareMetalHost struct {
	ID               string `json:"id"`
	InstanceID       string `json:"instance-id"`
	LifecycleState   string `json:"lifecycle-state"`
	LifecycleDetails string `json:"lifecycle-details"`
	HPCIslandID      string `json:"compute-hpc-island-id"`
	NetworkBlockID   string `json:"compute-network-block-id"`
	LocalBlockID     string `json:"compute-local-block-id"`
}

// AnnouncementSummary is one entry of the announcement list call.
type AnnouncementSummary struct {
	ID                    string `json:"id"`
	ReferenceTicketNumber string `json:"reference-ticket-number"`
	Summary               string `json:"summary"`
	AnnouncementType      string `json:"announcement-type"`
	LifecycleState        string `json:"lifecycle-state"`
	TimeOneValue          string `json:"time-one-value"`
}

// Gateway is a VCN gateway of any type.
type Gateway struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display-name"`
	LifecycleState string `json:"lifecycle-state"`
	VCNID          string `json:"vcn-id"`
	// Type is set by the client from the call that listed the gateway.
	Type string `json:"-"`
}

// envelope is the top-level shape of every CLI response.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	NextPage string          `json:"opc-next-page"`
}

// itemsPage is the paged-collection shape some list calls use for data.
type itemsPage struct {
	Items json.RawMessage `json:"items"`
}
