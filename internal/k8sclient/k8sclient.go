// Package k8sclient builds the Kubernetes clientset used by the tracker
// and the autoscaler.
package k8sclient

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
)

// New returns a clientset for the surrounding cluster: the in-cluster
// service account when running as a pod, otherwise the default kubeconfig
// loading rules.
func New() (kubernetes.Interface, error) {
	config, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client: %w", err)
	}
	return client, nil
}
