package usb

import (
	"bytes"
	"encoding/binary"
)

// CDC class-specific functional descriptor subtypes (CDC 1.2, table 13).
const (
	cdcSubtypeHeader         = 0x00
	cdcSubtypeCallManagement = 0x01
	cdcSubtypeACM            = 0x02
	cdcSubtypeUnion          = 0x06
)

// CDC ACM class requests the device must answer on EP0.
const (
	CDCSetLineCoding       = 0x20
	CDCGetLineCoding       = 0x21
	CDCSetControlLineState = 0x22
)

// InterfaceAssociation (8 bytes) groups the two CDC interfaces into one
// function so composite-aware hosts bind a single driver to both.
type InterfaceAssociation struct {
	BFirstInterface   uint8
	BInterfaceCount   uint8
	BFunctionClass    uint8
	BFunctionSubClass uint8
	BFunctionProtocol uint8
	IFunction         uint8
}

func (a InterfaceAssociation) Write(b *bytes.Buffer) {
	b.WriteByte(IADescLen)
	b.WriteByte(IADescType)
	b.WriteByte(a.BFirstInterface)
	b.WriteByte(a.BInterfaceCount)
	b.WriteByte(a.BFunctionClass)
	b.WriteByte(a.BFunctionSubClass)
	b.WriteByte(a.BFunctionProtocol)
	b.WriteByte(a.IFunction)
}

// CDCHeader is the class-specific header functional descriptor (5 bytes).
type CDCHeader struct {
	BcdCDC uint16 // LE
}

func (h CDCHeader) Write(b *bytes.Buffer) {
	b.WriteByte(5)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(cdcSubtypeHeader)
	_ = binary.Write(b, binary.LittleEndian, h.BcdCDC)
}

// CDCCallManagement is the call management functional descriptor (5 bytes).
type CDCCallManagement struct {
	BMCapabilities uint8
	BDataInterface uint8
}

func (c CDCCallManagement) Write(b *bytes.Buffer) {
	b.WriteByte(5)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(cdcSubtypeCallManagement)
	b.WriteByte(c.BMCapabilities)
	b.WriteByte(c.BDataInterface)
}

// CDCACM is the abstract control management functional descriptor (4 bytes).
type CDCACM struct {
	BMCapabilities uint8
}

func (c CDCACM) Write(b *bytes.Buffer) {
	b.WriteByte(4)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(cdcSubtypeACM)
	b.WriteByte(c.BMCapabilities)
}

// CDCUnion is the union functional descriptor binding the communication
// interface to its data interface (5 bytes).
type CDCUnion struct {
	BControlInterface     uint8
	BSubordinateInterface uint8
}

func (u CDCUnion) Write(b *bytes.Buffer) {
	b.WriteByte(5)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(cdcSubtypeUnion)
	b.WriteByte(u.BControlInterface)
	b.WriteByte(u.BSubordinateInterface)
}

// LineCoding is the 7-byte CDC line coding structure exchanged by
// Set/GetLineCoding. The device is a virtual port, so the values are
// stored and echoed back but do not affect transport.
type LineCoding struct {
	DwDTERate   uint32 // LE, baud
	BCharFormat uint8
	BParityType uint8
	BDataBits   uint8
}

// Bytes returns the wire form of the line coding.
func (l LineCoding) Bytes() []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, l.DwDTERate)
	b.WriteByte(l.BCharFormat)
	b.WriteByte(l.BParityType)
	b.WriteByte(l.BDataBits)
	return b.Bytes()
}

// ParseLineCoding decodes a SetLineCoding payload. Short payloads are
// rejected rather than zero-filled.
func ParseLineCoding(data []byte) (LineCoding, bool) {
	if len(data) < 7 {
		return LineCoding{}, false
	}
	return LineCoding{
		DwDTERate:   binary.LittleEndian.Uint32(data[0:4]),
		BCharFormat: data[4],
		BParityType: data[5],
		BDataBits:   data[6],
	}, true
}
