// Package composite owns the active-port mask of the adapter and derives
// the USB composite configuration from it: two fixed CDC serial
// interfaces followed by one compacted HID gamepad interface per active
// controller port.
//
// The Manager runs the reconfiguration state machine. It is driven
// exclusively by the acquisition goroutine; every other goroutine only
// reads the published mask or injects synthetic presence events through
// channels the owner drains.
package composite

// Link is the device's attachment to the host-facing bus. Down drops the
// attachment so the host unbinds its drivers; Up offers the device
// again, triggering re-enumeration against the current configuration.
//
// Implementations must tolerate Down with no attachment and Up while
// already up; the manager calls them fire-and-forget with no feedback
// channel from the host.
type Link interface {
	Down()
	Up()
}

// NopLink is a Link that does nothing. Useful until a transport is bound
// and in tests that only exercise mask arithmetic.
type NopLink struct{}

func (NopLink) Down() {}
func (NopLink) Up()   {}
