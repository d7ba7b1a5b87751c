// Package membership maintains the live set of dispatchable worker
// endpoints from a Kubernetes pod watch. The Tracker writes the Pool; the
// dispatcher only ever reads snapshots of it.
package membership

import (
	"net"
	"strconv"

	corev1 "k8s.io/api/core/v1"
)

// Endpoint is the dialable host:port address of a worker pod.
type Endpoint string

func endpointOf(ip string, port int) Endpoint {
	return Endpoint(net.JoinHostPort(ip, strconv.Itoa(port)))
}

// EndpointForPod derives the worker endpoint from a pod. The second return
// is false when the pod is not dispatchable: no IP assigned yet, or a phase
// other than Running.
func EndpointForPod(pod *corev1.Pod, port int) (Endpoint, bool) {
	if pod == nil || pod.Status.PodIP == "" || pod.Status.Phase != corev1.PodRunning {
		return "", false
	}
	return endpointOf(pod.Status.PodIP, port), true
}
