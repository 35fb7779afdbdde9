package process

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	"oss.nandlabs.io/golly/pool"

	"github.com/airbyte-oss/scheduler-core/internal/metrics"
)

// KubernetesFactory launches worker processes as ephemeral three-container
// pods, following catalystcommunity-reactorcide's KubernetesRunner.SpawnJob
// for direct client-go pod construction (no controller-runtime manager: see
// DESIGN.md for why that framework has no home here).
type KubernetesFactory struct {
	clientset       *kubernetes.Clientset
	restConfig      *rest.Config
	namespace       string
	schedulerHost   string
	heartbeatPort   int
	heartbeatPeriod time.Duration
	heartbeatMisses int
	ports           pool.Pool[int]
	log             logr.Logger
	metrics         *metrics.Metrics
}

// KubernetesFactoryConfig configures a KubernetesFactory.
type KubernetesFactoryConfig struct {
	Namespace       string
	SchedulerHost   string
	HeartbeatPort   int
	HeartbeatPeriod time.Duration
	HeartbeatMisses int
	WorkerPorts     []int
	// PortCheckoutTimeout bounds how long Create blocks waiting for a free
	// worker port once every port is checked out.
	PortCheckoutTimeout time.Duration
}

// NewKubernetesFactory builds a KubernetesFactory backed by clientset, with
// a bounded port pool seeded from cfg.WorkerPorts (SPEC_FULL.md §5's
// "bounded port pool as back-pressure"). restConfig is reused to open the
// exec stream stageFiles uses to seed each pod's shared volume. m may be
// nil, in which case the worker port pool's in-use gauge is not recorded.
func NewKubernetesFactory(clientset *kubernetes.Clientset, restConfig *rest.Config, cfg KubernetesFactoryConfig, log logr.Logger, m *metrics.Metrics) (*KubernetesFactory, error) {
	available := make(chan int, len(cfg.WorkerPorts))
	for _, p := range cfg.WorkerPorts {
		available <- p
	}
	ports, err := pool.NewPool[int](
		func() (int, error) {
			select {
			case p := <-available:
				return p, nil
			default:
				return 0, fmt.Errorf("process: worker port pool exhausted")
			}
		},
		func(int) error { return nil },
		0, len(cfg.WorkerPorts), int(cfg.PortCheckoutTimeout.Seconds()),
	)
	if err != nil {
		return nil, err
	}
	if err := ports.Start(); err != nil {
		return nil, err
	}

	return &KubernetesFactory{
		clientset:       clientset,
		restConfig:      restConfig,
		namespace:       cfg.Namespace,
		schedulerHost:   cfg.SchedulerHost,
		heartbeatPort:   cfg.HeartbeatPort,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		heartbeatMisses: cfg.HeartbeatMisses,
		ports:           ports,
		log:             log,
		metrics:         m,
	}, nil
}

func (f *KubernetesFactory) Close() error {
	return f.ports.Close()
}

func (f *KubernetesFactory) checkinPort(port int) {
	f.ports.Checkin(port)
	if f.metrics != nil {
		f.metrics.PortPoolInUse.Dec()
	}
}

func (f *KubernetesFactory) Create(ctx context.Context, spec Spec) (Process, error) {
	if _, err := name.ParseReference(spec.ImageName); err != nil {
		return nil, fmt.Errorf("process: invalid image reference %q: %w", spec.ImageName, err)
	}

	port, err := f.ports.Checkout()
	if err != nil {
		return nil, fmt.Errorf("process: checkout worker port: %w", err)
	}
	if f.metrics != nil {
		f.metrics.PortPoolInUse.Inc()
	}

	podName := "worker-" + spec.ContainerName()
	pod := f.buildPod(podName, port, spec)

	created, err := f.clientset.CoreV1().Pods(f.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		f.checkinPort(port)
		return nil, fmt.Errorf("process: create pod %s: %w", podName, err)
	}

	if err := f.stageFiles(ctx, created.Name, spec.Files); err != nil {
		f.log.Error(err, "process: failed staging files", "pod", created.Name)
	}

	return &kubeProcess{
		factory: f,
		pod:     created.Name,
		port:    port,
	}, nil
}

func (f *KubernetesFactory) buildPod(podName string, port int, spec Spec) *corev1.Pod {
	shared := corev1.Volume{
		Name:         "shared",
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}
	mount := corev1.VolumeMount{Name: "shared", MountPath: "/shared"}

	initContainer := corev1.Container{
		Name:         "init",
		Image:        "busybox:stable",
		Command:      []string{"sh", "-c", "until [ -f /shared/READY ]; do sleep 1; done"},
		VolumeMounts: []corev1.VolumeMount{mount},
	}

	mainEntrypoint := spec.Entrypoint
	if mainEntrypoint == "" {
		mainEntrypoint = "/bin/sh"
	}
	mainContainer := corev1.Container{
		Name:         "main",
		Image:        spec.ImageName,
		Command:      []string{mainEntrypoint},
		Args:         spec.Args,
		Ports:        []corev1.ContainerPort{{ContainerPort: int32(port)}},
		VolumeMounts: []corev1.VolumeMount{mount},
	}

	sidecar := corev1.Container{
		Name:  "heartbeat",
		Image: "worker-heartbeat-sidecar:latest",
		Env: []corev1.EnvVar{
			{Name: "HEARTBEAT_URL", Value: fmt.Sprintf("http://%s:%d/", f.schedulerHost, f.heartbeatPort)},
			{Name: "HEARTBEAT_INTERVAL_SECONDS", Value: fmt.Sprintf("%d", int(f.heartbeatPeriod.Seconds()))},
			{Name: "HEARTBEAT_MAX_MISSES", Value: fmt.Sprintf("%d", f.heartbeatMisses)},
		},
		VolumeMounts: []corev1.VolumeMount{mount},
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: f.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/component": "scheduler-worker",
				"scheduler.airbyte/job-id":    fmt.Sprintf("%d", spec.JobID),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy:  corev1.RestartPolicyNever,
			InitContainers: []corev1.Container{initContainer},
			Containers:     []corev1.Container{mainContainer, sidecar},
			Volumes:        []corev1.Volume{shared},
		},
	}
}

// stageFiles tars spec.Files and streams them into the init container's
// stdin via an exec, extracting into the shared volume and dropping the
// READY marker the init container polls for (SPEC_FULL.md §4.7 step 3).
func (f *KubernetesFactory) stageFiles(ctx context.Context, podName string, files map[string][]byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for fname, contents := range files {
		hdr := &tar.Header{Name: fname, Size: int64(len(contents)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(contents); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}

	if err := f.waitForInitContainerRunning(ctx, podName); err != nil {
		return fmt.Errorf("process: init container never became ready: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return err
	}
	req := f.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(f.namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Command:   []string{"sh", "-c", "tar xf - -C /shared && touch /shared/READY"},
		Container: "init",
		Stdin:     true,
		Stdout:    true,
		Stderr:    true,
	}, runtime.NewParameterCodec(scheme))

	exec, err := remotecommand.NewSPDYExecutor(f.restConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("process: build exec stream: %w", err)
	}

	var stdout, stderr bytes.Buffer
	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  &buf,
		Stdout: &stdout,
		Stderr: &stderr,
	}); err != nil {
		return fmt.Errorf("process: stage files into pod %s: %w (stderr: %s)", podName, err, stderr.String())
	}
	return nil
}

// waitForInitContainerRunning polls until the pod's init container has
// started, so the exec stream in stageFiles has somewhere to attach.
func (f *KubernetesFactory) waitForInitContainerRunning(ctx context.Context, podName string) error {
	deadline := time.Now().Add(30 * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		pod, err := f.clientset.CoreV1().Pods(f.namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		for _, cs := range pod.Status.InitContainerStatuses {
			if cs.Name == "init" && (cs.State.Running != nil || cs.State.Terminated != nil) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for init container to start")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type kubeProcess struct {
	factory *KubernetesFactory
	pod     string
	port    int

	exitCode int
	exited   bool
}

func (p *kubeProcess) Stdin() io.WriteCloser { return nil }
func (p *kubeProcess) Stdout() io.ReadCloser { return nil }
func (p *kubeProcess) Stderr() io.ReadCloser { return nil }

func (p *kubeProcess) IsAlive() bool {
	return !p.exited
}

// WaitFor polls the pod phase until it reaches a terminal phase or ctx is
// cancelled. The exit code is inferred from pod status only: 0 for
// Succeeded, the main container's terminated exit code (or 1) for Failed,
// and 127 if the pod no longer exists. No terminator file is read.
func (p *kubeProcess) WaitFor(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := p.factory.clientset.CoreV1().Pods(p.factory.namespace).Get(ctx, p.pod, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				p.exited = true
				p.exitCode = 127
				return nil
			}
			if err != nil {
				return err
			}
			switch pod.Status.Phase {
			case corev1.PodSucceeded:
				p.exited = true
				p.exitCode = 0
				return nil
			case corev1.PodFailed:
				p.exited = true
				p.exitCode = exitCodeFromStatus(pod)
				return nil
			}
		}
	}
}

func exitCodeFromStatus(pod *corev1.Pod) int {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == "main" && cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode)
		}
	}
	return 1
}

func (p *kubeProcess) ExitValue() (int, error) {
	if !p.exited {
		return 0, fmt.Errorf("process: ExitValue called before WaitFor completed")
	}
	return p.exitCode, nil
}

func (p *kubeProcess) Destroy(ctx context.Context) error {
	defer p.factory.checkinPort(p.port)
	err := p.factory.clientset.CoreV1().Pods(p.factory.namespace).Delete(ctx, p.pod, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

var _ Factory = (*KubernetesFactory)(nil)
var _ Factory = (*DockerFactory)(nil)
