package e2e_test

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/log"
	srvusb "github.com/quadpad/quadpad/internal/server/usb"
	"github.com/quadpad/quadpad/pad"
	th "github.com/quadpad/quadpad/testing"
	"github.com/quadpad/quadpad/usb"
)

type memSerial struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (m *memSerial) Feed(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Write(p)
}

func (m *memSerial) Drain(max int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.out.Len()
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	return m.out.Next(n)
}

func startServer(t *testing.T) (*srvusb.Server, *composite.Manager, *pad.Cells, *memSerial) {
	t.Helper()

	cells := &pad.Cells{}
	serial := &memSerial{}
	srv := srvusb.New(srvusb.ServerConfig{Addr: "127.0.0.1:0", ConnectionTimeout: 5 * time.Second},
		slog.Default(), log.NewRaw(nil), cells)
	mgr := composite.NewManager(slog.Default(), srv, composite.ManagerConfig{SettleDelay: time.Millisecond})
	srv.Bind(mgr, serial)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			t.Errorf("usb server: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("usb server did not start")
	}
	t.Cleanup(func() { _ = srv.Close() })

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

func getDescriptorSetup(dtype, dindex uint8, wIndex, wLength uint16) [8]byte {
	var setup [8]byte
	setup[0] = 0x80
	setup[1] = 0x06
	binary.LittleEndian.PutUint16(setup[2:4], uint16(dtype)<<8|uint16(dindex))
	binary.LittleEndian.PutUint16(setup[4:6], wIndex)
	binary.LittleEndian.PutUint16(setup[6:8], wLength)
	return setup
}

func TestEnumerationOverWire(t *testing.T) {
	srv, mgr, _, _ := startServer(t)
	attachPort(t, mgr, 0)
	attachPort(t, mgr, 2)

	c := th.NewUsbIpClient(t, srv.Addr())

	devices, err := c.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	dev := devices[0]
	assert.Equal(t, "1-1", dev.BusID)
	assert.Equal(t, uint16(srvusb.VendorID), dev.IDVendor)
	assert.Equal(t, uint16(srvusb.ProductID), dev.IDProduct)
	require.Equal(t, uint8(4), dev.NumIfaces, "CDC pair plus two gamepads")
	assert.Equal(t, uint8(usb.ClassCDC), dev.Interfaces[0].Class)
	assert.Equal(t, uint8(usb.ClassCDCData), dev.Interfaces[1].Class)
	assert.Equal(t, uint8(usb.ClassHID), dev.Interfaces[2].Class)
	assert.Equal(t, uint8(usb.ClassHID), dev.Interfaces[3].Class)

	imp, err := c.Attach("1-1")
	require.NoError(t, err)
	defer imp.Conn.Close()
	assert.Equal(t, dev.NumIfaces, imp.Exported.NumIfaces)

	desc, err := c.Control(imp.Conn, getDescriptorSetup(usb.ConfigDescType, 0, 0, 512), nil)
	require.NoError(t, err)
	require.NotEmpty(t, desc)
	assert.Equal(t, len(desc), int(binary.LittleEndian.Uint16(desc[2:4])))
	assert.Equal(t, uint8(4), desc[4], "bNumInterfaces")

	str, err := c.Control(imp.Conn, getDescriptorSetup(usb.StringDescType, 1, 0, 255), nil)
	require.NoError(t, err)
	assert.Equal(t, usb.EncodeStringDescriptor("QuadPad"), str)
}

func TestInputReportOverWire(t *testing.T) {
	srv, mgr, cells, _ := startServer(t)
	attachPort(t, mgr, 3)

	cells[3].Store(pad.State{Connected: true, X: -20, Y: 7, Buttons: pad.ButtonA | pad.ButtonStart})

	c := th.NewUsbIpClient(t, srv.Addr())
	imp, err := c.Attach("1-1")
	require.NoError(t, err)
	defer imp.Conn.Close()

	report, err := c.ReadEndpoint(imp.Conn, uint32(composite.EPHIDBase&0x0F), 64)
	require.NoError(t, err)
	x := int8(-20)
	assert.Equal(t, []byte{byte(x), 7, byte(pad.ButtonA | pad.ButtonStart)}, report)
}

func TestSerialOverWire(t *testing.T) {
	srv, _, _, serial := startServer(t)

	c := th.NewUsbIpClient(t, srv.Addr())
	imp, err := c.Attach("1-1")
	require.NoError(t, err)
	defer imp.Conn.Close()

	require.NoError(t, c.WriteEndpoint(imp.Conn, uint32(srvusb.EPCDCOutNum), []byte("status\n")))
	assert.Equal(t, "status\n", serial.in.String())

	serial.mu.Lock()
	serial.out.WriteString("ok\n")
	serial.mu.Unlock()
	data, err := c.ReadEndpoint(imp.Conn, uint32(srvusb.EPCDCInNum), 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok\n"), data)
}

func TestDetachedDeviceOverWire(t *testing.T) {
	srv, _, _, _ := startServer(t)
	srv.Down()

	c := th.NewUsbIpClient(t, srv.Addr())

	devices, err := c.ListDevices()
	require.NoError(t, err)
	assert.Empty(t, devices, "bus is empty while detached")

	_, err = c.Attach("1-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import refused")

	srv.Up()
	imp, err := c.Attach("1-1")
	require.NoError(t, err)
	imp.Conn.Close()
}
