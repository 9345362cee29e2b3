package usbip

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExportMeta(t *testing.T) {
	m := NewExportMeta("/sys/devices/platform/quadpad/usb1/1-1", "1-1", 1, 1<<16|2)

	assert.Equal(t, "/sys/devices/platform/quadpad/usb1/1-1", string(bytes.TrimRight(m.Path[:], "\x00")))
	assert.Equal(t, "1-1", string(bytes.TrimRight(m.USBBusId[:], "\x00")))
	assert.Equal(t, uint32(1), m.BusId)
	assert.Equal(t, uint32(0x10002), m.DevId)

	// Fixed-size fields are fully zero padded past the string.
	for _, b := range m.USBBusId[3:] {
		require.Zero(t, b)
	}
}

func TestExportedDeviceWireFormats(t *testing.T) {
	dev := ExportedDevice{
		ExportMeta:          NewExportMeta("/sys/devices/platform/quadpad/usb1/1-1", "1-1", 1, 1<<16|2),
		Speed:               2,
		IDVendor:            0x6666,
		IDProduct:           0x4005,
		BcdDevice:           0x0100,
		BDeviceClass:        0xEF,
		BDeviceSubClass:     0x02,
		BDeviceProtocol:     0x01,
		BConfigurationValue: 1,
		BNumConfigurations:  1,
		BNumInterfaces:      3,
		Interfaces: []InterfaceDesc{
			{Class: 0x02, SubClass: 0x02},
			{Class: 0x0A},
			{Class: 0x03},
		},
	}

	var imp bytes.Buffer
	require.NoError(t, dev.WriteImport(&imp))
	// path + busid + 3 u32 + 3 u16 + 6 u8
	assert.Equal(t, 256+32+12+6+6, imp.Len())
	b := imp.Bytes()
	assert.Equal(t, uint16(0x6666), binary.BigEndian.Uint16(b[300:302]))
	assert.Equal(t, uint16(0x4005), binary.BigEndian.Uint16(b[302:304]))
	assert.Equal(t, uint8(3), b[311], "bNumInterfaces")

	var dl bytes.Buffer
	require.NoError(t, dev.WriteDevlist(&dl))
	// devlist adds one 4-byte triplet record per interface
	assert.Equal(t, imp.Len()+4*len(dev.Interfaces), dl.Len())
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00}, dl.Bytes()[dl.Len()-4:], "last interface triplet")
}

func TestMgmtHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := MgmtHeader{Version: Version, Command: OpRepImport, Status: 1}
	require.NoError(t, h.Write(&buf))

	b := buf.Bytes()
	require.Len(t, b, 8)
	assert.Equal(t, uint16(Version), binary.BigEndian.Uint16(b[0:2]))
	assert.Equal(t, uint16(OpRepImport), binary.BigEndian.Uint16(b[2:4]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(b[4:8]))
}
