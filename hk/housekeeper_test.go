package hk_test

import (
	"sync/atomic"
	"time"

	"github.com/iqua-toronto/siphon/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered callback after its delay", func() {
		fired := make(chan struct{}, 1)
		hk.Reg("fire-once", func() time.Duration {
			fired <- struct{}{}
			return 0
		}, 10*time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
	})

	It("reschedules when the callback returns a positive duration", func() {
		var count int32
		hk.Reg("reschedule", func() time.Duration {
			if atomic.AddInt32(&count, 1) >= 3 {
				return 0
			}
			return 5 * time.Millisecond
		}, 5*time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&count) }, time.Second).Should(BeNumerically(">=", 3))
	})

	It("slides the deadline when re-registered under the same name", func() {
		fired := make(chan struct{}, 1)
		cb := func() time.Duration {
			fired <- struct{}{}
			return 0
		}
		hk.Reg("slide", cb, time.Hour)
		hk.Reg("slide", cb, 10*time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
	})

	It("never fires an unregistered callback", func() {
		fired := make(chan struct{}, 1)
		hk.Reg("cancel-me", func() time.Duration {
			fired <- struct{}{}
			return 0
		}, 50*time.Millisecond)
		hk.Unreg("cancel-me")

		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})
})
