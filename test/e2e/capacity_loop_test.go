/*
Copyright 2025.

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

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/dispatch"
	"github.com/inferscale/inferscale/internal/membership"
	"github.com/inferscale/inferscale/internal/monitor"
	"github.com/inferscale/inferscale/internal/report"
	"github.com/inferscale/inferscale/internal/scaler"
	"github.com/inferscale/inferscale/internal/stats"
)

const (
	testNamespace  = "inference"
	testDeployment = "image-classifier"
	workerSelector = "app=image-classifier"

	latencyThreshold = 60 * time.Millisecond
	minReplicas      = int32(1)
	maxReplicas      = int32(5)
)

// imagePayload stands in for an encoded image body.
var imagePayload = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// fakeWorker is an in-process stand-in for one inference pod: an HTTP
// server whose response delay can be adjusted mid-test.
type fakeWorker struct {
	srv   *httptest.Server
	delay atomic.Int64
}

func newFakeWorker(label string) *fakeWorker {
	worker := &fakeWorker{}
	worker.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		time.Sleep(time.Duration(worker.delay.Load()))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"label":%q}`, label)
	}))
	return worker
}

func (w *fakeWorker) setDelay(d time.Duration) { w.delay.Store(int64(d)) }

func (w *fakeWorker) hostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(w.srv.URL, "http://"))
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(portStr)
	Expect(err).NotTo(HaveOccurred())
	return host, port
}

func workerPod(name, ip string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    map[string]string{"app": "image-classifier"},
		},
		Status: corev1.PodStatus{PodIP: ip, Phase: corev1.PodRunning},
	}
}

type wireStats struct {
	P99Latency       float64 `json:"p99_latency"`
	MeasurementCount int     `json:"measurement_count"`
}

var _ = Describe("Closed capacity loop", Ordered, func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc

		client      *fake.Clientset
		pool        *membership.Pool
		worker      *fakeWorker
		monitorSrv  *httptest.Server
		dispatchSrv *httptest.Server
	)

	postPredict := func(g Gomega) {
		resp, err := http.Post(dispatchSrv.URL+"/", "application/octet-stream", bytes.NewReader(imagePayload))
		g.Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	}

	fetchStats := func(g Gomega) wireStats {
		resp, err := http.Get(monitorSrv.URL + "/stats")
		g.Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		var got wireStats
		g.Expect(json.NewDecoder(resp.Body).Decode(&got)).To(Succeed())
		return got
	}

	currentReplicas := func() int32 {
		deployment, err := client.AppsV1().Deployments(testNamespace).Get(
			context.Background(), testDeployment, metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		return *deployment.Spec.Replicas
	}

	BeforeAll(func() {
		ctx, cancel = context.WithCancel(ctrl.LoggerInto(context.Background(), ctrl.Log.WithName("e2e")))

		By("starting a fake inference worker")
		worker = newFakeWorker("tabby cat")
		_, workerPort := worker.hostPort()

		By("seeding the fake cluster with the worker deployment")
		client = fake.NewClientset(&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: testDeployment, Namespace: testNamespace},
			Spec:       appsv1.DeploymentSpec{Replicas: ptr.To(minReplicas)},
		})

		By("running the membership tracker against the fake pod watch")
		pool = membership.NewPool()
		tracker, err := membership.NewTracker(client, pool, &membership.TrackerConfig{
			Namespace:     testNamespace,
			LabelSelector: workerSelector,
			WorkerPort:    workerPort,
			WatchTimeout:  time.Minute,
			Backoff:       20 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = tracker.Run(ctx) }()

		// The fake watch never replays objects that existed before it was
		// registered, so pods must not be created until the watch is up.
		By("waiting for the tracker to establish its pod watch")
		Eventually(func() bool {
			for _, action := range client.Actions() {
				if action.GetVerb() == "watch" && action.GetResource().Resource == "pods" {
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond).Should(BeTrue())

		By("serving the monitor over a live aggregator")
		aggregator, err := stats.NewAggregator(64, nil)
		Expect(err).NotTo(HaveOccurred())
		server, err := monitor.NewServer(aggregator, nil)
		Expect(err).NotTo(HaveOccurred())
		monitorRouter := chi.NewRouter()
		server.Register(monitorRouter)
		monitorSrv = httptest.NewServer(monitorRouter)

		By("wiring the dispatcher to the monitor through the report queue")
		reportClient, err := report.NewClient(monitorSrv.URL, time.Second)
		Expect(err).NotTo(HaveOccurred())
		reporter, err := report.NewReporter(reportClient, 64)
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = reporter.Run(ctx) }()

		dispatcher, err := dispatch.NewDispatcher(pool, dispatch.RandomPicker{}, reporter, &dispatch.DispatcherConfig{
			WorkerPath: "/predict",
			Timeout:    2 * time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
		dispatchRouter := chi.NewRouter()
		dispatcher.Register(dispatchRouter)
		dispatchSrv = httptest.NewServer(dispatchRouter)

		By("running the autoscaler against the monitor and the fake cluster")
		source, err := scaler.NewHTTPStatsSource(monitorSrv.URL, time.Second)
		Expect(err).NotTo(HaveOccurred())
		replicas, err := scaler.NewDeploymentReplicaClient(client, testNamespace, testDeployment)
		Expect(err).NotTo(HaveOccurred())
		autoscaler, err := scaler.NewAutoscaler(source, replicas, &scaler.AutoscalerConfig{
			PollInterval: 25 * time.Millisecond,
			Policy: scaler.Policy{
				LatencyThreshold: latencyThreshold,
				MinReplicas:      minReplicas,
				MaxReplicas:      maxReplicas,
				ScaleUpFactor:    1.5,
				ScaleDownStep:    1,
			},
		})
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = autoscaler.Run(ctx) }()
	})

	AfterAll(func() {
		cancel()
		if dispatchSrv != nil {
			dispatchSrv.Close()
		}
		if monitorSrv != nil {
			monitorSrv.Close()
		}
		if worker != nil {
			worker.srv.Close()
		}
	})

	It("discovers the worker from pod events", func() {
		By("creating a running worker pod backed by the fake worker")
		host, _ := worker.hostPort()
		_, err := client.CoreV1().Pods(testNamespace).Create(
			context.Background(), workerPod("image-classifier-7d9f4-x2x1p", host), metav1.CreateOptions{})
		Expect(err).NotTo(HaveOccurred())

		Eventually(pool.Len, 5*time.Second, 10*time.Millisecond).Should(Equal(1))
	})

	It("routes predict requests and aggregates their latency", func() {
		By("verifying the worker response is relayed verbatim")
		resp, err := http.Post(dispatchSrv.URL+"/", "application/octet-stream", bytes.NewReader(imagePayload))
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal(`{"label":"tabby cat"}`))

		By("driving a burst of requests and waiting for the samples to land")
		for range 9 {
			postPredict(Default)
		}
		Eventually(func(g Gomega) {
			g.Expect(fetchStats(g).MeasurementCount).To(BeNumerically(">=", 10))
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())

		By("verifying a fast worker keeps the deployment at the minimum")
		Expect(currentReplicas()).To(Equal(minReplicas))
	})

	It("scales the deployment up when p99 latency breaches the threshold", func() {
		By("slowing the worker beyond the latency threshold")
		worker.setDelay(100 * time.Millisecond)

		By("driving steady load until the autoscaler reacts")
		Eventually(func(g Gomega) {
			postPredict(g)
			g.Expect(currentReplicas()).To(BeNumerically(">", minReplicas))
		}, 15*time.Second, 25*time.Millisecond).Should(Succeed())

		_, _ = fmt.Fprintf(GinkgoWriter, "Scale-up observed: %d replicas\n", currentReplicas())
	})

	It("keeps growing to the maximum while the breach persists", func() {
		// The window is memoryless only through eviction; with no fast
		// samples arriving, the breach persists and each cycle grows the
		// deployment until it hits the ceiling.
		Eventually(currentReplicas, 15*time.Second, 25*time.Millisecond).Should(Equal(maxReplicas))
	})

	It("scales back down to the minimum once latency recovers", func() {
		By("restoring the worker to fast responses")
		worker.setDelay(0)

		By("flushing the window with fast samples until p99 recovers")
		Eventually(func(g Gomega) {
			postPredict(g)
			g.Expect(fetchStats(g).P99Latency).To(BeNumerically("<", latencyThreshold.Seconds()))
		}, 20*time.Second, 20*time.Millisecond).Should(Succeed())

		By("waiting for the step-down to walk back to the minimum")
		Eventually(currentReplicas, 15*time.Second, 25*time.Millisecond).Should(Equal(minReplicas))

		_, _ = fmt.Fprintf(GinkgoWriter, "Scale-down observed: %d replicas\n", currentReplicas())
	})

	It("self-heals the pool when the worker dies", func() {
		By("killing the worker")
		worker.srv.Close()

		By("the next dispatch ejects the dead endpoint")
		resp, err := http.Post(dispatchSrv.URL+"/", "application/octet-stream", bytes.NewReader(imagePayload))
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		Expect(pool.Len()).To(BeZero())

		By("subsequent dispatches fail fast with no backend available")
		resp2, err := http.Post(dispatchSrv.URL+"/", "application/octet-stream", bytes.NewReader(imagePayload))
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp2.Body.Close() }()
		var envelope struct {
			Error  string `json:"error"`
			Status int    `json:"status"`
		}
		Expect(json.NewDecoder(resp2.Body).Decode(&envelope)).To(Succeed())
		Expect(resp2.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(envelope.Error).To(Equal("no backend available"))
	})
})
