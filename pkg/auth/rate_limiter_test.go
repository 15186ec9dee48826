package auth

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewRateLimiter(t *testing.T) {
	Convey("Given valid parameters", t, func() {
		rl := NewRateLimiter(10, time.Second)

		Convey("It should start at full capacity", func() {
			So(rl, ShouldNotBeNil)
			So(rl.Allow(), ShouldBeTrue)
		})
	})

	Convey("Given invalid parameters", t, func() {
		Convey("It should panic", func() {
			So(func() { NewRateLimiter(0, time.Second) }, ShouldPanic)
			So(func() { NewRateLimiter(10, 0) }, ShouldPanic)
		})
	})
}

func TestRateLimiterAllow(t *testing.T) {
	Convey("Given a limiter with capacity 3", t, func() {
		rl := NewRateLimiter(3, time.Hour)

		Convey("It should allow exactly the capacity in a burst", func() {
			So(rl.Allow(), ShouldBeTrue)
			So(rl.Allow(), ShouldBeTrue)
			So(rl.Allow(), ShouldBeTrue)
			So(rl.Allow(), ShouldBeFalse)
		})
	})
}

func TestRateLimiterWaitTime(t *testing.T) {
	Convey("Given a drained limiter", t, func() {
		rl := NewRateLimiter(1, time.Hour)
		So(rl.Allow(), ShouldBeTrue)

		Convey("WaitTime should be positive", func() {
			So(rl.WaitTime(), ShouldBeGreaterThan, 0)
		})
	})

	Convey("Given a full limiter", t, func() {
		rl := NewRateLimiter(5, time.Second)

		Convey("WaitTime should be zero", func() {
			So(rl.WaitTime(), ShouldEqual, 0)
		})
	})
}

func TestRateLimiterReset(t *testing.T) {
	Convey("Given a drained limiter", t, func() {
		rl := NewRateLimiter(1, time.Hour)
		So(rl.Allow(), ShouldBeTrue)
		So(rl.Allow(), ShouldBeFalse)

		Convey("When reset", func() {
			rl.Reset()

			Convey("It should allow again", func() {
				So(rl.Allow(), ShouldBeTrue)
			})
		})
	})
}
