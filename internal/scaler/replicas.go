/*
Copyright 2025 The inferscale Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scaler

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

// ReplicaClient reads and writes the worker deployment's desired size.
type ReplicaClient interface {
	Replicas(ctx context.Context) (int32, error)
	Scale(ctx context.Context, replicas int32) error
}

// DeploymentReplicaClient drives one Deployment's spec.replicas through
// the typed API. The server applies patched values verbatim; clamping to
// the policy bounds happens before Scale is called.
type DeploymentReplicaClient struct {
	client     kubernetes.Interface
	namespace  string
	deployment string
}

var _ ReplicaClient = (*DeploymentReplicaClient)(nil)

// NewDeploymentReplicaClient creates a replica client for the named
// deployment.
func NewDeploymentReplicaClient(client kubernetes.Interface, namespace, deployment string) (*DeploymentReplicaClient, error) {
	if client == nil {
		return nil, fmt.Errorf("kubernetes client cannot be nil")
	}
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	if deployment == "" {
		return nil, fmt.Errorf("deployment name cannot be empty")
	}
	return &DeploymentReplicaClient{
		client:     client,
		namespace:  namespace,
		deployment: deployment,
	}, nil
}

// Replicas reads the current desired replica count. An unset field means
// one replica, matching the API server default.
func (c *DeploymentReplicaClient) Replicas(ctx context.Context) (int32, error) {
	deployment, err := c.client.AppsV1().Deployments(c.namespace).Get(ctx, c.deployment, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("reading deployment %s/%s: %w", c.namespace, c.deployment, err)
	}
	if deployment.Spec.Replicas == nil {
		return 1, nil
	}
	return *deployment.Spec.Replicas, nil
}

// Scale patches the desired replica count.
func (c *DeploymentReplicaClient) Scale(ctx context.Context, replicas int32) error {
	patch := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	_, err := c.client.AppsV1().Deployments(c.namespace).Patch(ctx, c.deployment,
		types.MergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("patching deployment %s/%s to %d replicas: %w", c.namespace, c.deployment, replicas, err)
	}
	return nil
}
