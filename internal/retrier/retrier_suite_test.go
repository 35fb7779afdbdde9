package retrier

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRetrier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retrier Suite")
}

var _ = Describe("Policy.Backoff", func() {
	policy := DefaultPolicy()

	It("returns 0 before the first failed attempt", func() {
		Expect(policy.Backoff(0)).To(Equal(time.Duration(0)))
	})

	It("doubles per failed attempt up to maxDelay", func() {
		Expect(policy.Backoff(1)).To(Equal(10 * time.Second))
		Expect(policy.Backoff(2)).To(Equal(20 * time.Second))
		Expect(policy.Backoff(3)).To(Equal(40 * time.Second))
	})

	It("caps at maxDelay", func() {
		Expect(policy.Backoff(20)).To(Equal(10 * time.Minute))
	})
})
