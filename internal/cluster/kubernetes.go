package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// workspacePort is the HTTP port every workspace image listens on.
	workspacePort = 8888

	// workspaceNameLabel selects all resources managed by this service.
	workspaceNameLabel = "app.kubernetes.io/name=labpod-workspace"

	labelName  = "app.kubernetes.io/name"
	labelValue = "labpod-workspace"
	labelOwner = "labpod.dev/owner"
	labelEnvID = "labpod.dev/env-id"

	workspaceHome = "/home/workspace"
)

// Kubernetes implements Client against a Kubernetes cluster.
type Kubernetes struct {
	clientset kubernetes.Interface
	namespace string
}

// NewKubernetes builds a cluster client. An empty kubeconfig path
// selects in-cluster configuration.
func NewKubernetes(kubeconfigPath, namespace string) (*Kubernetes, error) {
	var cfg *rest.Config
	var err error

	if kubeconfigPath == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Kubernetes{clientset: clientset, namespace: namespace}, nil
}

// NewKubernetesWithClientset builds a cluster client around an existing
// clientset. Used by tests with a fake clientset.
func NewKubernetesWithClientset(clientset kubernetes.Interface, namespace string) *Kubernetes {
	return &Kubernetes{clientset: clientset, namespace: namespace}
}

// CreatePod creates the workspace pod. An already-existing pod with the
// same name is treated as success since names are deterministic.
func (k *Kubernetes) CreatePod(ctx context.Context, spec WorkspaceSpec) error {
	pod, err := buildPod(spec)
	if err != nil {
		return err
	}

	_, err = k.clientset.CoreV1().Pods(k.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return classify("create pod", err)
}

// CreateService creates the workspace's network endpoint.
func (k *Kubernetes) CreateService(ctx context.Context, spec WorkspaceSpec) error {
	svc := buildService(spec)

	_, err := k.clientset.CoreV1().Services(k.namespace).Create(ctx, svc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return classify("create service", err)
}

// DeletePod removes the workspace pod. Absence is not an error.
func (k *Kubernetes) DeletePod(ctx context.Context, name string) error {
	err := k.clientset.CoreV1().Pods(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return classify("delete pod", err)
}

// DeleteService removes the workspace service. Absence is not an error.
func (k *Kubernetes) DeleteService(ctx context.Context, name string) error {
	err := k.clientset.CoreV1().Services(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return classify("delete service", err)
}

// PodState reports the observed state of a workspace pod.
func (k *Kubernetes) PodState(ctx context.Context, name string) (PodState, error) {
	pod, err := k.clientset.CoreV1().Pods(k.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return PodState{}, classify("get pod", err)
	}
	return podStateFrom(pod), nil
}

// ListPodStates returns observed state for all workspace pods.
func (k *Kubernetes) ListPodStates(ctx context.Context) (map[string]PodState, error) {
	pods, err := k.clientset.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: workspaceNameLabel,
	})
	if err != nil {
		return nil, classify("list pods", err)
	}

	states := make(map[string]PodState, len(pods.Items))
	for i := range pods.Items {
		states[pods.Items[i].Name] = podStateFrom(&pods.Items[i])
	}
	return states, nil
}

// ServiceExists reports whether the named service is present.
func (k *Kubernetes) ServiceExists(ctx context.Context, name string) (bool, error) {
	_, err := k.clientset.CoreV1().Services(k.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, classify("get service", err)
	}
	return true, nil
}

// Ping verifies connectivity by listing workspace pods with a limit.
func (k *Kubernetes) Ping(ctx context.Context) error {
	_, err := k.clientset.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: workspaceNameLabel,
		Limit:         1,
	})
	return classify("ping", err)
}

// buildPod constructs the workspace pod object.
func buildPod(spec WorkspaceSpec) (*corev1.Pod, error) {
	limits, err := resourceLimits(spec)
	if err != nil {
		return nil, err
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.PodName,
			Labels: workspaceLabels(spec),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyOnFailure,
			Containers: []corev1.Container{
				{
					Name:  "workspace",
					Image: spec.Image,
					Ports: []corev1.ContainerPort{
						{Name: "http", ContainerPort: workspacePort, Protocol: corev1.ProtocolTCP},
					},
					ReadinessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							HTTPGet: &corev1.HTTPGetAction{
								Path:   "/",
								Port:   intstr.FromInt(workspacePort),
								Scheme: corev1.URISchemeHTTP,
							},
						},
						InitialDelaySeconds: 5,
						PeriodSeconds:       10,
					},
					Resources: corev1.ResourceRequirements{
						Limits: limits,
					},
				},
			},
		},
	}

	if spec.VolumeName != "" {
		pod.Spec.Volumes = []corev1.Volume{
			{
				Name: "workspace-data",
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: spec.VolumeName,
					},
				},
			},
		}
		pod.Spec.Containers[0].VolumeMounts = []corev1.VolumeMount{
			{Name: "workspace-data", MountPath: workspaceHome},
		}
	}

	return pod, nil
}

// buildService constructs the workspace's ClusterIP service, selecting
// the pod by its env ID label.
func buildService(spec WorkspaceSpec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.ServiceName,
			Labels: workspaceLabels(spec),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{labelEnvID: spec.EnvID},
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       80,
					TargetPort: intstr.FromInt(workspacePort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

func workspaceLabels(spec WorkspaceSpec) map[string]string {
	return map[string]string{
		labelName:  labelValue,
		labelOwner: spec.OwnerID,
		labelEnvID: spec.EnvID,
	}
}

// resourceLimits parses the quantity strings from the spec. Bad
// quantities are a permanent error: retrying cannot fix them.
func resourceLimits(spec WorkspaceSpec) (corev1.ResourceList, error) {
	cpu, err := resource.ParseQuantity(spec.CPULimit)
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: "parse cpu limit", Err: err}
	}
	mem, err := resource.ParseQuantity(spec.MemoryLimit)
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: "parse memory limit", Err: err}
	}
	return corev1.ResourceList{
		corev1.ResourceCPU:    cpu,
		corev1.ResourceMemory: mem,
	}, nil
}

// podStateFrom folds a pod object into the coarse observed state.
func podStateFrom(pod *corev1.Pod) PodState {
	if pod.Status.Phase == corev1.PodFailed {
		reason := pod.Status.Reason
		if reason == "" {
			reason = "pod failed"
		}
		return PodState{Phase: PodFailed, Reason: reason}
	}

	// Unschedulable or image pull problems show up as container
	// waiting reasons long before the pod phase flips.
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting == nil {
			continue
		}
		switch cs.State.Waiting.Reason {
		case "ErrImagePull", "ImagePullBackOff", "CrashLoopBackOff", "CreateContainerError":
			return PodState{Phase: PodFailed, Reason: cs.State.Waiting.Reason}
		}
	}

	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return PodState{Phase: PodReady}
		}
	}

	return PodState{Phase: PodPending}
}

var _ Client = (*Kubernetes)(nil)
