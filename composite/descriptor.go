package composite

import (
	"bytes"

	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/usb"
	"github.com/quadpad/quadpad/usb/hid"
)

// Fixed interface numbers. The CDC function always occupies interfaces 0
// and 1; HID gamepad interfaces are compacted after it.
const (
	IfaceCDCComm = 0
	IfaceCDCData = 1
	IfaceHIDBase = 2
)

// Fixed endpoint addresses. HID IN endpoints are assigned contiguously
// from EPHIDBase in slot order.
const (
	EPCDCNotif = 0x81
	EPCDCOut   = 0x02
	EPCDCIn    = 0x82
	EPHIDBase  = 0x83
)

// String descriptor indexes referenced from the configuration.
const (
	StrCDCFunction = 4
	StrHIDPortBase = 5 // port 0 = index 5, port 1 = 6, ...
)

// Block lengths of the built configuration in bytes.
const (
	cdcFunctionLen = usb.IADescLen + // interface association
		usb.InterfaceDescLen + 5 + 5 + 4 + 5 + // comm interface + functional descriptors
		usb.EndpointDescLen + // notification endpoint
		usb.InterfaceDescLen + 2*usb.EndpointDescLen // data interface + bulk pair
	hidBlockLen = usb.InterfaceDescLen + usb.HIDDescLen + usb.EndpointDescLen
)

// Layout is the interface and endpoint assignment derived from an active
// mask by compaction: ports with a set bit receive interfaces numbered
// contiguously in ascending port order, gaps close up.
type Layout struct {
	Mask  uint8
	Ports []int // Ports[slot] is the port behind interface IfaceHIDBase+slot
}

// LayoutFor compacts mask into a Layout. Bits beyond the physical port
// count are masked off.
func LayoutFor(mask uint8) Layout {
	mask &= 1<<pad.NumPorts - 1
	l := Layout{Mask: mask}
	for port := 0; port < pad.NumPorts; port++ {
		if mask&(1<<port) != 0 {
			l.Ports = append(l.Ports, port)
		}
	}
	return l
}

// NumInterfaces counts the interfaces the layout enumerates, the two
// serial interfaces included.
func (l Layout) NumInterfaces() int {
	return 2 + len(l.Ports)
}

// PortForInterface resolves a HID interface number to its port.
func (l Layout) PortForInterface(iface int) (int, bool) {
	slot := iface - IfaceHIDBase
	if slot < 0 || slot >= len(l.Ports) {
		return 0, false
	}
	return l.Ports[slot], true
}

// PortForEndpoint resolves a HID IN endpoint number (without the
// direction bit) to its port.
func (l Layout) PortForEndpoint(ep uint8) (int, bool) {
	return l.PortForInterface(int(ep) - (EPHIDBase & 0x0F) + IfaceHIDBase)
}

// Descriptor materializes the configuration descriptor for the layout.
// Each call returns a fresh buffer; callers may hold it across an
// in-flight transfer without racing later rebuilds.
func (l Layout) Descriptor() []byte {
	var b bytes.Buffer

	usb.ConfigHeader{
		WTotalLength:        uint16(usb.ConfigDescLen + cdcFunctionLen + len(l.Ports)*hidBlockLen),
		BNumInterfaces:      uint8(l.NumInterfaces()),
		BConfigurationValue: 1,
		BMAttributes:        0x80, // bus powered
		BMaxPower:           50,   // 100 mA
	}.Write(&b)

	l.writeCDC(&b)
	for slot, port := range l.Ports {
		l.writeHID(&b, slot, port)
	}

	return b.Bytes()
}

func (l Layout) writeCDC(b *bytes.Buffer) {
	usb.InterfaceAssociation{
		BFirstInterface:   IfaceCDCComm,
		BInterfaceCount:   2,
		BFunctionClass:    usb.ClassCDC,
		BFunctionSubClass: usb.SubclassACM,
		IFunction:         StrCDCFunction,
	}.Write(b)

	usb.InterfaceDescriptor{
		BInterfaceNumber:   IfaceCDCComm,
		BNumEndpoints:      1,
		BInterfaceClass:    usb.ClassCDC,
		BInterfaceSubClass: usb.SubclassACM,
		IInterface:         StrCDCFunction,
	}.Write(b)
	usb.CDCHeader{BcdCDC: 0x0120}.Write(b)
	usb.CDCCallManagement{BDataInterface: IfaceCDCData}.Write(b)
	usb.CDCACM{BMCapabilities: 0x02}.Write(b) // line coding + control line state
	usb.CDCUnion{
		BControlInterface:     IfaceCDCComm,
		BSubordinateInterface: IfaceCDCData,
	}.Write(b)
	usb.EndpointDescriptor{
		BEndpointAddress: EPCDCNotif,
		BMAttributes:     usb.EndpointInterrupt,
		WMaxPacketSize:   8,
		BInterval:        16,
	}.Write(b)

	usb.InterfaceDescriptor{
		BInterfaceNumber: IfaceCDCData,
		BNumEndpoints:    2,
		BInterfaceClass:  usb.ClassCDCData,
	}.Write(b)
	usb.EndpointDescriptor{
		BEndpointAddress: EPCDCOut,
		BMAttributes:     usb.EndpointBulk,
		WMaxPacketSize:   64,
	}.Write(b)
	usb.EndpointDescriptor{
		BEndpointAddress: EPCDCIn,
		BMAttributes:     usb.EndpointBulk,
		WMaxPacketSize:   64,
	}.Write(b)
}

func (l Layout) writeHID(b *bytes.Buffer, slot, port int) {
	usb.InterfaceDescriptor{
		BInterfaceNumber: uint8(IfaceHIDBase + slot),
		BNumEndpoints:    1,
		BInterfaceClass:  usb.ClassHID,
		IInterface:       uint8(StrHIDPortBase + port),
	}.Write(b)
	usb.HIDDescriptor{
		BcdHID:            0x0111,
		BNumDescriptors:   1,
		ClassDescType:     usb.ReportDescType,
		WDescriptorLength: uint16(len(hid.GamepadBytes())),
	}.Write(b)
	usb.EndpointDescriptor{
		BEndpointAddress: uint8(EPHIDBase + slot),
		BMAttributes:     usb.EndpointInterrupt,
		WMaxPacketSize:   8,
		BInterval:        10,
	}.Write(b)
}
