// Package kube reads node state from the Kubernetes API and applies cordons.
package kube

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultGPUResource is the extended resource name counted as GPUs.
const DefaultGPUResource corev1.ResourceName = "nvidia.com/gpu"

// NodeState is the per-node view joined against compute instances.
type NodeState struct {
	Name        string
	InstanceID  string // provider id with any scheme prefix removed
	Ready       string // "True", "False" or "Unknown"
	Schedulable bool
	GPUs        int64 // allocatable GPUs
	GPUPods     int   // running pods requesting GPUs
}

// Client wraps a Kubernetes clientset.
type Client struct {
	cs          kubernetes.Interface
	gpuResource corev1.ResourceName
}

// Option configures a Client.
type Option func(*Client)

// WithGPUResource overrides the resource name counted as GPUs.
func WithGPUResource(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.gpuResource = corev1.ResourceName(name)
		}
	}
}

// NewClient wraps an existing clientset.
func NewClient(cs kubernetes.Interface, opts ...Option) *Client {
	c := &Client{cs: cs, gpuResource: DefaultGPUResource}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromKubeconfig builds a Client from a kubeconfig path and context.
// Empty values fall back to the standard loading rules ($KUBECONFIG,
// ~/.kube/config) and the current context.
func NewClientFromKubeconfig(path, kubeContext string, opts ...Option) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kube: loading kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kube: creating client: %w", err)
	}
	return NewClient(cs, opts...), nil
}

// ListNodeStates lists nodes and running pods and folds them into one
// NodeState per node, sorted by name.
func (c *Client) ListNodeStates(ctx context.Context) ([]NodeState, error) {
	nodes, err := c.cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("kube: listing nodes: %w", err)
	}
	pods, err := c.cs.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "status.phase=Running",
	})
	if err != nil {
		return nil, fmt.Errorf("kube: listing pods: %w", err)
	}

	gpuPods := make(map[string]int)
	for i := range pods.Items {
		p := &pods.Items[i]
		if p.Status.Phase != corev1.PodRunning || p.Spec.NodeName == "" {
			continue
		}
		if requestsResource(p, c.gpuResource) {
			gpuPods[p.Spec.NodeName]++
		}
	}

	states := make([]NodeState, 0, len(nodes.Items))
	for i := range nodes.Items {
		n := &nodes.Items[i]
		gpus := n.Status.Allocatable[c.gpuResource]
		states = append(states, NodeState{
			Name:        n.Name,
			InstanceID:  InstanceID(n.Spec.ProviderID),
			Ready:       readyStatus(n),
			Schedulable: !n.Spec.Unschedulable,
			GPUs:        gpus.Value(),
			GPUPods:     gpuPods[n.Name],
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states, nil
}

// SetUnschedulable cordons (true) or uncordons (false) a node.
func (c *Client) SetUnschedulable(ctx context.Context, node string, unschedulable bool) error {
	patch := fmt.Sprintf(`{"spec":{"unschedulable":%t}}`, unschedulable)
	_, err := c.cs.CoreV1().Nodes().Patch(ctx, node, types.MergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("kube: patching node %s: %w", node, err)
	}
	return nil
}

// InstanceID strips the scheme from a node provider id ("oci://ocid1...").
func InstanceID(providerID string) string {
	if i := strings.Index(providerID, "://"); i >= 0 {
		return providerID[i+3:]
	}
	return providerID
}

// readyStatus returns the status of the node's Ready condition.
func readyStatus(n *corev1.Node) string {
	for _, cond := range n.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return string(cond.Status)
		}
	}
	return string(corev1.ConditionUnknown)
}

// requestsResource reports whether any container requests or limits name.
func requestsResource(p *corev1.Pod, name corev1.ResourceName) bool {
	positive := func(q resource.Quantity, ok bool) bool { return ok && q.Sign() > 0 }
	for _, ctr := range p.Spec.Containers {
		if q, ok := ctr.Resources.Limits[name]; positive(q, ok) {
			return true
		}
		if q, ok := ctr.Resources.Requests[name]; positive(q, ok) {
			return true
		}
	}
	return false
}
