package usb

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/log"
	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/usb"
	"github.com/quadpad/quadpad/usb/hid"
	"github.com/quadpad/quadpad/usbip"
)

// bufSerial is a minimal in-memory SerialPort.
type bufSerial struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (b *bufSerial) Feed(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.in.Write(p)
}

func (b *bufSerial) Drain(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.out.Len()
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	return b.out.Next(n)
}

func newTestServer(t *testing.T) (*Server, *composite.Manager, *pad.Cells, *bufSerial) {
	t.Helper()
	cells := &pad.Cells{}
	serial := &bufSerial{}
	srv := New(ServerConfig{Addr: "127.0.0.1:0"}, slog.Default(), log.NewRaw(nil), cells)
	mgr := composite.NewManager(slog.Default(), srv, composite.ManagerConfig{SettleDelay: time.Millisecond})
	srv.Bind(mgr, serial)
	return srv, mgr, cells, serial
}

func attachPort(t *testing.T, mgr *composite.Manager, port int) {
	t.Helper()
	mgr.HandlePresence(port, true)
	require.Eventually(t, func() bool {
		mgr.Poll()
		return !mgr.Reconfiguring()
	}, 2*time.Second, time.Millisecond)
}

func controlSetup(bm, breq uint8, wValue, wIndex, wLength uint16) []byte {
	setup := make([]byte, 8)
	setup[0] = bm
	setup[1] = breq
	binary.LittleEndian.PutUint16(setup[2:4], wValue)
	binary.LittleEndian.PutUint16(setup[4:6], wIndex)
	binary.LittleEndian.PutUint16(setup[6:8], wLength)
	return setup
}

func TestDeviceDescriptor(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	setup := controlSetup(usbReqTypeStandardFromDevice, usbReqGetDescriptor, uint16(usb.DeviceDescType)<<8, 0, 64)
	desc := srv.processSubmit(0, usbip.DirIn, setup, nil)

	require.Len(t, desc, 18)
	assert.Equal(t, uint8(usb.DeviceDescType), desc[1])
	assert.Equal(t, uint16(VendorID), binary.LittleEndian.Uint16(desc[8:10]))
	assert.Equal(t, uint16(ProductID), binary.LittleEndian.Uint16(desc[10:12]))
	assert.Equal(t, uint8(1), desc[17], "one configuration")
}

func TestConfigDescriptorTracksMask(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)

	setup := controlSetup(usbReqTypeStandardFromDevice, usbReqGetDescriptor, uint16(usb.ConfigDescType)<<8, 0, 512)

	// No pads attached: serial-only configuration.
	desc := srv.processSubmit(0, usbip.DirIn, setup, nil)
	require.NotEmpty(t, desc)
	assert.Equal(t, len(desc), int(binary.LittleEndian.Uint16(desc[2:4])))
	assert.Equal(t, uint8(2), desc[4], "CDC interfaces only")

	attachPort(t, mgr, 1)

	desc = srv.processSubmit(0, usbip.DirIn, setup, nil)
	assert.Equal(t, len(desc), int(binary.LittleEndian.Uint16(desc[2:4])))
	assert.Equal(t, uint8(3), desc[4], "CDC pair plus one gamepad")
}

func TestConfigDescriptorClampedToSetupLength(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	// Hosts first ask for the 9-byte header to learn wTotalLength.
	setup := controlSetup(usbReqTypeStandardFromDevice, usbReqGetDescriptor, uint16(usb.ConfigDescType)<<8, 0, 9)
	desc := srv.processSubmit(0, usbip.DirIn, setup, nil)
	require.Len(t, desc, 9)
	assert.Equal(t, uint8(usb.ConfigDescType), desc[1])
}

func TestStringDescriptors(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	setup := controlSetup(usbReqTypeStandardFromDevice, usbReqGetDescriptor, uint16(usb.StringDescType)<<8|1, 0, 255)
	desc := srv.processSubmit(0, usbip.DirIn, setup, nil)
	require.NotEmpty(t, desc)
	assert.Equal(t, usb.EncodeStringDescriptor("QuadPad"), desc)

	// Out-of-range string index yields no data.
	setup = controlSetup(usbReqTypeStandardFromDevice, usbReqGetDescriptor, uint16(usb.StringDescType)<<8|99, 0, 255)
	assert.Nil(t, srv.processSubmit(0, usbip.DirIn, setup, nil))
}

func TestHIDDescriptors(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	attachPort(t, mgr, 0)

	// Report descriptor for the enumerated gamepad interface.
	setup := controlSetup(usbReqTypeStandardToInterface, usbReqGetDescriptor, uint16(usb.ReportDescType)<<8, composite.IfaceHIDBase, 512)
	assert.Equal(t, hid.GamepadBytes(), srv.processSubmit(0, usbip.DirIn, setup, nil))

	// HID class descriptor announces the report descriptor length.
	setup = controlSetup(usbReqTypeStandardToInterface, usbReqGetDescriptor, uint16(usb.HIDDescType)<<8, composite.IfaceHIDBase, 512)
	desc := srv.processSubmit(0, usbip.DirIn, setup, nil)
	require.Len(t, desc, 9)
	assert.Equal(t, uint16(len(hid.GamepadBytes())), binary.LittleEndian.Uint16(desc[7:9]))

	// Interfaces outside the layout have no HID descriptors.
	setup = controlSetup(usbReqTypeStandardToInterface, usbReqGetDescriptor, uint16(usb.ReportDescType)<<8, composite.IfaceHIDBase+1, 512)
	assert.Nil(t, srv.processSubmit(0, usbip.DirIn, setup, nil))
}

func TestLineCodingRoundTrip(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	want := usb.LineCoding{DwDTERate: 9600, BCharFormat: 0, BParityType: 0, BDataBits: 7}
	setup := controlSetup(usbReqTypeClassToInterface, usb.CDCSetLineCoding, 0, composite.IfaceCDCComm, 7)
	assert.Nil(t, srv.processSubmit(0, usbip.DirOut, setup, want.Bytes()))

	setup = controlSetup(usbReqTypeClassFromInterface, usb.CDCGetLineCoding, 0, composite.IfaceCDCComm, 7)
	assert.Equal(t, want.Bytes(), srv.processSubmit(0, usbip.DirIn, setup, nil))
}

func TestHIDInterruptReport(t *testing.T) {
	srv, mgr, cells, _ := newTestServer(t)
	attachPort(t, mgr, 2)

	cells[2].Store(pad.State{Connected: true, X: -10, Y: 35, Buttons: pad.ButtonB | pad.ButtonR})

	// Port 2 is the first (only) active slot, so it answers on the base endpoint.
	report := srv.processSubmit(uint32(composite.EPHIDBase&0x0F), usbip.DirIn, nil, nil)
	x := int8(-10)
	assert.Equal(t, []byte{byte(x), 35, byte(pad.ButtonB | pad.ButtonR)}, report)

	// Endpoints beyond the layout stay silent.
	assert.Nil(t, srv.processSubmit(uint32(composite.EPHIDBase&0x0F)+1, usbip.DirIn, nil, nil))
}

func TestSerialEndpoints(t *testing.T) {
	srv, _, _, serial := newTestServer(t)

	assert.Nil(t, srv.processSubmit(uint32(EPCDCOutNum), usbip.DirOut, nil, []byte("hello")))
	assert.Equal(t, "hello", serial.in.String())

	serial.out.WriteString("pong")
	assert.Equal(t, []byte("pong"), srv.processSubmit(uint32(EPCDCInNum), usbip.DirIn, nil, nil))

	// Notification endpoint has nothing to report.
	assert.Nil(t, srv.processSubmit(uint32(EPCDCNotifNum), usbip.DirIn, nil, nil))
}

func TestImportRefusedWhileLinkDown(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	srv.Down()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.handleImport(server)
	}()

	var busid [32]byte
	copy(busid[:], "1-1")
	_, err := client.Write(busid[:])
	require.NoError(t, err)

	var reply [8]byte
	_, err = client.Read(reply[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(errNoDevice), binary.BigEndian.Uint32(reply[4:8]))
	assert.Error(t, <-errCh)

	// Back up: a fresh URB connection may attach again.
	srv.Up()
	assert.True(t, srv.trackConn(client))
}

func TestLinkDownDropsAttachedClients(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	client, server := net.Pipe()
	defer client.Close()
	require.True(t, srv.trackConn(server))

	srv.Down()

	// The tracked conn was closed; reads fail immediately.
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	var b [1]byte
	_, err := server.Read(b[:])
	assert.Error(t, err)

	assert.False(t, srv.trackConn(server), "imports refused until link is up")
}
