package process

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// HeartbeatServer answers liveness polls from sidecar containers running in
// Kubernetes-hosted worker pods (SPEC_FULL.md §4.7). Its presence, not its
// response body, is the signal.
type HeartbeatServer struct {
	srv *http.Server
	log logr.Logger
}

// NewHeartbeatServer builds a HeartbeatServer bound to addr (":9000" by
// convention, KUBE_HEARTBEAT_PORT).
func NewHeartbeatServer(addr string, log logr.Logger) *HeartbeatServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &HeartbeatServer{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log,
	}
}

// Start begins serving in the background; errors other than a clean
// shutdown are logged.
func (h *HeartbeatServer) Start() {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error(err, "heartbeat: server exited unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down.
func (h *HeartbeatServer) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// SidecarProbe is run inside a worker pod's heartbeat sidecar container: it
// polls the scheduler's HeartbeatServer and self-terminates the pod after
// maxMisses consecutive failures, so pods are never orphaned by a crashed
// scheduler.
type SidecarProbe struct {
	URL         string
	Interval    time.Duration
	MaxMisses   int
	OnTerminate func()
	httpc       *http.Client
}

// NewSidecarProbe builds a SidecarProbe targeting the scheduler's heartbeat
// URL.
func NewSidecarProbe(url string, interval time.Duration, maxMisses int, onTerminate func()) *SidecarProbe {
	return &SidecarProbe{
		URL:         url,
		Interval:    interval,
		MaxMisses:   maxMisses,
		OnTerminate: onTerminate,
		httpc:       &http.Client{Timeout: interval / 2},
	}
}

// Run polls until ctx is cancelled or the miss threshold is exceeded, in
// which case OnTerminate is invoked once.
func (p *SidecarProbe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.poll(ctx) {
				misses = 0
				continue
			}
			misses++
			if misses >= p.MaxMisses {
				p.OnTerminate()
				return
			}
		}
	}
}

func (p *SidecarProbe) poll(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
