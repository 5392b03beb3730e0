package kube

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func node(name, providerID string, ready corev1.ConditionStatus, gpus string, cordoned bool) *corev1.Node {
	n := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec:       corev1.NodeSpec{ProviderID: providerID, Unschedulable: cordoned},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: ready}},
		},
	}
	if gpus != "" {
		n.Status.Allocatable = corev1.ResourceList{DefaultGPUResource: resource.MustParse(gpus)}
	}
	return n
}

func gpuPod(name, nodeName string, phase corev1.PodPhase, gpus string) *corev1.Pod {
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "train"},
		Spec: corev1.PodSpec{
			NodeName:   nodeName,
			Containers: []corev1.Container{{Name: "main"}},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
	if gpus != "" {
		p.Spec.Containers[0].Resources.Limits = corev1.ResourceList{DefaultGPUResource: resource.MustParse(gpus)}
	}
	return p
}

func TestListNodeStates(t *testing.T) {
	// Given two GPU nodes and a mix of pods
	cs := fake.NewSimpleClientset(
		node("gpu-b", "oci://ocid1.instance.oc1.iad.bbb", corev1.ConditionTrue, "8", false),
		node("gpu-a", "ocid1.instance.oc1.iad.aaa", corev1.ConditionFalse, "8", true),
		gpuPod("p1", "gpu-b", corev1.PodRunning, "8"),
		gpuPod("p2", "gpu-b", corev1.PodRunning, ""),
		gpuPod("p3", "gpu-b", corev1.PodPending, "1"),
		gpuPod("p4", "gpu-a", corev1.PodRunning, "2"),
	)
	c := NewClient(cs)

	// When node states are listed
	got, err := c.ListNodeStates(context.Background())
	if err != nil {
		t.Fatalf("ListNodeStates() error = %v", err)
	}

	// Then each node carries its instance id, readiness and GPU pod count
	want := []NodeState{
		{Name: "gpu-a", InstanceID: "ocid1.instance.oc1.iad.aaa", Ready: "False", Schedulable: false, GPUs: 8, GPUPods: 1},
		{Name: "gpu-b", InstanceID: "ocid1.instance.oc1.iad.bbb", Ready: "True", Schedulable: true, GPUs: 8, GPUPods: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListNodeStates() mismatch (-want +got):\n%s", diff)
	}
}

func TestListNodeStates_NoReadyCondition(t *testing.T) {
	n := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "bare"}}
	got, err := NewClient(fake.NewSimpleClientset(n)).ListNodeStates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Ready != "Unknown" || got[0].GPUs != 0 {
		t.Errorf("ListNodeStates() = %+v", got)
	}
}

func TestSetUnschedulable(t *testing.T) {
	// Given a schedulable node
	cs := fake.NewSimpleClientset(node("gpu-a", "", corev1.ConditionTrue, "8", false))
	c := NewClient(cs)

	// When it is cordoned
	if err := c.SetUnschedulable(context.Background(), "gpu-a", true); err != nil {
		t.Fatalf("SetUnschedulable() error = %v", err)
	}

	// Then the node spec is unschedulable
	n, err := cs.CoreV1().Nodes().Get(context.Background(), "gpu-a", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !n.Spec.Unschedulable {
		t.Error("node should be unschedulable after cordon")
	}

	// And uncordon reverses it
	if err := c.SetUnschedulable(context.Background(), "gpu-a", false); err != nil {
		t.Fatal(err)
	}
	n, _ = cs.CoreV1().Nodes().Get(context.Background(), "gpu-a", metav1.GetOptions{})
	if n.Spec.Unschedulable {
		t.Error("node should be schedulable after uncordon")
	}
}

func TestSetUnschedulable_MissingNode(t *testing.T) {
	c := NewClient(fake.NewSimpleClientset())
	if err := c.SetUnschedulable(context.Background(), "nope", true); err == nil {
		t.Error("expected error for missing node")
	}
}

func TestInstanceID(t *testing.T) {
	tests := map[string]string{
		"oci://ocid1.instance.oc1.iad.x": "ocid1.instance.oc1.iad.x",
		"ocid1.instance.oc1.iad.y":       "ocid1.instance.oc1.iad.y",
		"":                               "",
	}
	for in, want := range tests {
		if got := InstanceID(in); got != want {
			t.Errorf("InstanceID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithGPUResource(t *testing.T) {
	c := NewClient(fake.NewSimpleClientset(), WithGPUResource("amd.com/gpu"))
	if c.gpuResource != "amd.com/gpu" {
		t.Errorf("gpuResource = %q", c.gpuResource)
	}
	c = NewClient(fake.NewSimpleClientset(), WithGPUResource(""))
	if c.gpuResource != DefaultGPUResource {
		t.Errorf("empty override should keep default, got %q", c.gpuResource)
	}
}
