package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("WakeupScheduler", func() {
	var (
		mockCtrl  *gomock.Controller
		engine    *MockEngine
		handler   *MockHandler
		scheduler *WakeupScheduler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEngine(mockCtrl)
		handler = NewMockHandler(mockCtrl)
		scheduler = NewWakeupScheduler(handler, engine)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule a wakeup once per tick", func() {
		engine.EXPECT().
			Schedule(gomock.AssignableToTypeOf(WakeupEvent{})).
			Do(func(e Event) {
				Expect(e.Time()).To(Equal(VTime(30)))
				Expect(e.Handler()).To(BeIdenticalTo(handler))
			})

		scheduler.WakeupAt(30)
		scheduler.WakeupAt(30)

		Expect(scheduler.NumPending()).To(Equal(1))
	})

	It("should allow rescheduling after consumption", func() {
		engine.EXPECT().Schedule(gomock.Any()).Times(2)

		scheduler.WakeupAt(30)
		Expect(scheduler.Consume(30)).To(BeTrue())
		Expect(scheduler.Consume(30)).To(BeFalse())
		scheduler.WakeupAt(30)

		Expect(scheduler.NumPending()).To(Equal(1))
	})

	It("should deliver deduplicated wakeups through a real engine", func() {
		realEngine := NewSerialEngine()
		s := NewWakeupScheduler(handler, realEngine)

		handler.EXPECT().Handle(gomock.Any()).Times(2).
			Do(func(e Event) {
				s.Consume(e.Time())
			})

		s.WakeupAt(10)
		s.WakeupAt(10)
		s.WakeupAt(20)

		Expect(realEngine.Run()).To(Succeed())
		Expect(s.NumPending()).To(Equal(0))
	})
})
