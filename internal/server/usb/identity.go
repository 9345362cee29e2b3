package usb

import (
	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/usb"
)

// Device identity as reported to the host. The vendor/product pair and
// serial are what the shipped adapters enumerate with; host-side tools
// match on them.
const (
	VendorID  = 0x6666
	ProductID = 0x4005
	Serial    = "002e004"
)

// busID is the position the device claims on its (virtual) bus.
const busID = "1-1"

// identity returns the static device descriptor and string table.
// Strings 1..3 are the standard identity triple; the rest are the
// interface labels referenced from the configuration descriptor.
func identity() usb.Descriptor {
	strings := map[uint8]string{
		1: "QuadPad",
		2: "QuadPad Controller Adapter",
		3: Serial,

		composite.StrCDCFunction: "QuadPad Console",
	}
	labels := [pad.NumPorts]string{"Controller 1", "Controller 2", "Controller 3", "Controller 4"}
	for port, label := range labels {
		strings[composite.StrHIDPortBase+uint8(port)] = label
	}

	return usb.Descriptor{
		Device: usb.DeviceDescriptor{
			BcdUSB:          0x0200,
			BDeviceClass:    usb.ClassMisc,
			BDeviceSubClass: usb.SubclassIADCommon,
			BDeviceProtocol: usb.ProtocolIADCommon,
			BMaxPacketSize0: 64,
			IDVendor:        VendorID,
			IDProduct:       ProductID,
			BcdDevice:       0x0100,
			IManufacturer:   1,
			IProduct:        2,
			ISerialNumber:   3,

			BNumConfigurations: 1,
			Speed:              2, // full speed
		},
		Strings: strings,
	}
}
