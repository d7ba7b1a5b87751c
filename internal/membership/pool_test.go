package membership

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func makePod(name, ip string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Status:     corev1.PodStatus{PodIP: ip, Phase: phase},
	}
}

var _ = Describe("Pool", func() {
	var pool *Pool

	BeforeEach(func() {
		pool = NewPool()
	})

	Context("adding members", func() {
		It("should report a fresh endpoint as added", func() {
			Expect(pool.Add("10.0.0.1:5000")).To(BeTrue())
			Expect(pool.Len()).To(Equal(1))
		})

		It("should treat a duplicate add as a no-op", func() {
			Expect(pool.Add("10.0.0.1:5000")).To(BeTrue())
			Expect(pool.Add("10.0.0.1:5000")).To(BeFalse())
			Expect(pool.Len()).To(Equal(1))
		})
	})

	Context("removing members", func() {
		It("should remove a present endpoint", func() {
			pool.Add("10.0.0.1:5000")
			Expect(pool.Remove("10.0.0.1:5000")).To(BeTrue())
			Expect(pool.Len()).To(Equal(0))
		})

		It("should treat removal of an absent endpoint as a no-op", func() {
			Expect(pool.Remove("10.0.0.9:5000")).To(BeFalse())
			Expect(pool.Len()).To(Equal(0))
		})
	})

	Context("clearing", func() {
		It("should drop every member and report the count", func() {
			pool.Add("10.0.0.1:5000")
			pool.Add("10.0.0.2:5000")
			Expect(pool.Clear()).To(Equal(2))
			Expect(pool.Len()).To(Equal(0))
			Expect(pool.Snapshot()).To(BeEmpty())
		})

		It("should report zero for an already empty pool", func() {
			Expect(pool.Clear()).To(Equal(0))
		})
	})

	Context("snapshots", func() {
		It("should contain every member exactly once", func() {
			pool.Add("10.0.0.1:5000")
			pool.Add("10.0.0.2:5000")
			pool.Add("10.0.0.1:5000")
			Expect(pool.Snapshot()).To(ConsistOf(
				Endpoint("10.0.0.1:5000"),
				Endpoint("10.0.0.2:5000"),
			))
		})

		It("should not alias pool state", func() {
			pool.Add("10.0.0.1:5000")
			snap := pool.Snapshot()
			pool.Remove("10.0.0.1:5000")
			Expect(snap).To(ConsistOf(Endpoint("10.0.0.1:5000")))
			Expect(pool.Len()).To(Equal(0))
		})
	})
})

var _ = Describe("EndpointForPod", func() {
	It("should build host:port for a running pod with an IP", func() {
		ep, ok := EndpointForPod(makePod("worker-1", "10.0.0.7", corev1.PodRunning), 5000)
		Expect(ok).To(BeTrue())
		Expect(ep).To(Equal(Endpoint("10.0.0.7:5000")))
	})

	It("should reject a running pod without an IP", func() {
		_, ok := EndpointForPod(makePod("worker-1", "", corev1.PodRunning), 5000)
		Expect(ok).To(BeFalse())
	})

	It("should reject a pending pod even with an IP", func() {
		_, ok := EndpointForPod(makePod("worker-1", "10.0.0.7", corev1.PodPending), 5000)
		Expect(ok).To(BeFalse())
	})

	It("should reject a nil pod", func() {
		_, ok := EndpointForPod(nil, 5000)
		Expect(ok).To(BeFalse())
	})
})
