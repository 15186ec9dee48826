package agent

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewRegistry(t *testing.T) {
	Convey("Given a new registry", t, func() {
		registry := NewRegistry()

		Convey("It should start empty", func() {
			So(registry.IDs(), ShouldBeEmpty)
		})
	})
}

func TestRegistryRegister(t *testing.T) {
	Convey("Given a registry", t, func() {
		registry := NewRegistry()

		Convey("When an agent is registered", func() {
			echo := NewEchoAgent()
			registry.Register("echo", echo)

			Convey("It can be looked up by id", func() {
				found, ok := registry.Lookup("echo")

				So(ok, ShouldBeTrue)
				So(found, ShouldEqual, echo)
			})

			Convey("Registering the same id again replaces the binding", func() {
				replacement := &EchoAgent{Prefix: "v2: "}
				registry.Register("echo", replacement)

				found, ok := registry.Lookup("echo")

				So(ok, ShouldBeTrue)
				So(found, ShouldEqual, replacement)
				So(registry.IDs(), ShouldHaveLength, 1)
			})
		})

		Convey("When looking up an unknown id", func() {
			found, ok := registry.Lookup("ghost")

			Convey("It should report absence", func() {
				So(ok, ShouldBeFalse)
				So(found, ShouldBeNil)
			})
		})
	})
}

func TestRegistryIDs(t *testing.T) {
	Convey("Given a registry with several agents", t, func() {
		registry := NewRegistry()
		registry.Register("zeta", NewEchoAgent())
		registry.Register("alpha", NewEchoAgent())
		registry.Register("mike", NewEchoAgent())

		Convey("IDs come back sorted", func() {
			So(registry.IDs(), ShouldResemble, []string{"alpha", "mike", "zeta"})
		})
	})
}
