package sim

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	newEvent := func(t VTime, h Handler, secondary bool) *MockEvent {
		evt := NewMockEvent(mockCtrl)
		evt.EXPECT().Time().Return(t).AnyTimes()
		evt.EXPECT().Handler().Return(h).AnyTimes()
		evt.EXPECT().IsSecondary().Return(secondary).AnyTimes()

		return evt
	}

	It("should schedule events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		evt1 := newEvent(40, handler1, false)
		evt2 := newEvent(20, handler2, false)
		evt3 := newEvent(30, handler1, false)
		evt4 := newEvent(50, handler1, false)

		handleEvt2 := handler2.EXPECT().Handle(evt2).Do(func(e Event) {
			engine.Schedule(evt3)
			engine.Schedule(evt4)
		})
		handleEvt3 := handler1.EXPECT().Handle(evt3).After(handleEvt2)
		handleEvt1 := handler1.EXPECT().Handle(evt1).After(handleEvt3)
		handler1.EXPECT().Handle(evt4).After(handleEvt1)

		engine.Schedule(evt1)
		engine.Schedule(evt2)

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTime(50)))
	})

	It("should consider secondary events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		handler3 := NewMockHandler(mockCtrl)
		evt1 := newEvent(20, handler1, true)
		evt2 := newEvent(20, handler2, false)
		evt3 := newEvent(20, handler3, false)

		handleEvt2 := handler2.EXPECT().Handle(evt2)
		handleEvt3 := handler3.EXPECT().Handle(evt3)
		handler1.EXPECT().Handle(evt1).After(handleEvt2).After(handleEvt3)

		engine.Schedule(evt1)
		engine.Schedule(evt2)
		engine.Schedule(evt3)

		Expect(engine.Run()).To(Succeed())
	})

	It("should stop when a handler fails", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := newEvent(10, handler, false)
		evt2 := newEvent(20, handler, false)

		handler.EXPECT().Handle(evt1).Return(errors.New("boom"))

		engine.Schedule(evt1)
		engine.Schedule(evt2)

		Expect(engine.Run()).To(MatchError("boom"))
		Expect(engine.CurrentTime()).To(Equal(VTime(10)))
	})

	It("should panic when scheduling into the past", func() {
		handler := NewMockHandler(mockCtrl)
		evt := newEvent(100, handler, false)
		past := newEvent(50, handler, false)

		handler.EXPECT().Handle(evt).Do(func(e Event) {
			Expect(func() { engine.Schedule(past) }).To(Panic())
		})

		engine.Schedule(evt)
		Expect(engine.Run()).To(Succeed())
	})

	It("should call simulation end handlers", func() {
		var endedAt VTime
		engine.RegisterSimulationEndHandler(endHandlerFunc(func(now VTime) {
			endedAt = now
		}))

		handler := NewMockHandler(mockCtrl)
		handler.EXPECT().Handle(gomock.Any())
		engine.Schedule(newEvent(70, handler, false))

		Expect(engine.Run()).To(Succeed())
		engine.Finished()

		Expect(endedAt).To(Equal(VTime(70)))
	})
})

type endHandlerFunc func(now VTime)

func (f endHandlerFunc) Handle(now VTime) {
	f(now)
}
