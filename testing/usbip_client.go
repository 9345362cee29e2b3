// Package testing holds a minimal USB/IP client used by end-to-end
// tests to drive the adapter over its real TCP transport.
package testing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quadpad/quadpad/usbip"
)

type UsbIpClient struct {
	address string
	seq     uint32
}

// Device is the parsed form of an exported-device record.
type Device struct {
	Path       string
	BusID      string
	BusNum     uint32
	DeviceNum  uint32
	Speed      uint32
	IDVendor   uint16
	IDProduct  uint16
	BcdDevice  uint16
	Class      uint8
	SubClass   uint8
	Protocol   uint8
	ConfigVal  uint8
	NumConfigs uint8
	NumIfaces  uint8
	Interfaces []usbip.InterfaceDesc
}

// ImportResult holds the URB stream connection of a successful import
// together with the device record the server announced.
type ImportResult struct {
	Conn     net.Conn
	Exported Device
}

func NewUsbIpClient(t *testing.T, addr string) *UsbIpClient {
	t.Helper()

	return &UsbIpClient{
		address: addr,
	}
}

func (c *UsbIpClient) nextSeq() uint32 {
	// Seqnums only need to be unique within the session; the server does
	// not require a specific starting value.
	return atomic.AddUint32(&c.seq, 1) - 1
}

// ListDevices performs OP_REQ_DEVLIST on a fresh connection.
func (c *UsbIpClient) ListDevices() ([]Device, error) {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqDevlist}).Write(conn); err != nil {
		return nil, err
	}

	var hdr [12]byte
	if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
		return nil, err
	}

	if v := binary.BigEndian.Uint16(hdr[0:2]); v != usbip.Version {
		return nil, fmt.Errorf("unexpected usbip version %x", v)
	}
	if cmd := binary.BigEndian.Uint16(hdr[2:4]); cmd != usbip.OpRepDevlist {
		return nil, fmt.Errorf("unexpected reply command %x", cmd)
	}

	n := binary.BigEndian.Uint32(hdr[8:12])
	devices := make([]Device, 0, n)
	for i := uint32(0); i < n; i++ {
		dev, err := readExportedDevice(conn, true)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// Attach imports the device with the given busid. On success the
// returned connection carries the URB stream and stays open.
func (c *UsbIpClient) Attach(busID string) (*ImportResult, error) {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, err
	}

	if err := (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqImport}).Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	var bus [32]byte
	copy(bus[:], busID)
	if _, err := conn.Write(bus[:]); err != nil {
		conn.Close()
		return nil, err
	}

	var hdr [8]byte
	if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
		conn.Close()
		return nil, err
	}
	if v := binary.BigEndian.Uint16(hdr[0:2]); v != usbip.Version {
		conn.Close()
		return nil, fmt.Errorf("unexpected usbip version %x", v)
	}
	if cmd := binary.BigEndian.Uint16(hdr[2:4]); cmd != usbip.OpRepImport {
		conn.Close()
		return nil, fmt.Errorf("unexpected reply command %x", cmd)
	}
	if status := binary.BigEndian.Uint32(hdr[4:8]); status != 0 {
		conn.Close()
		return nil, fmt.Errorf("import refused with status %d", status)
	}

	dev, err := readExportedDevice(conn, false)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &ImportResult{Conn: conn, Exported: dev}, nil
}

// readExportedDevice parses one exported-device record. The devlist
// form carries a trailing interface triplet list, the import form does
// not.
func readExportedDevice(r net.Conn, withIfaces bool) (Device, error) {
	var base [312]byte
	if err := usbip.ReadExactly(r, base[:]); err != nil {
		return Device{}, err
	}

	pathField := base[0:256]
	busField := base[256:288]

	pathEnd := bytes.IndexByte(pathField, 0)
	if pathEnd == -1 {
		pathEnd = len(pathField)
	}
	busEnd := bytes.IndexByte(busField, 0)
	if busEnd == -1 {
		busEnd = len(busField)
	}

	dev := Device{
		Path:       string(pathField[:pathEnd]),
		BusID:      string(busField[:busEnd]),
		BusNum:     binary.BigEndian.Uint32(base[288:292]),
		DeviceNum:  binary.BigEndian.Uint32(base[292:296]),
		Speed:      binary.BigEndian.Uint32(base[296:300]),
		IDVendor:   binary.BigEndian.Uint16(base[300:302]),
		IDProduct:  binary.BigEndian.Uint16(base[302:304]),
		BcdDevice:  binary.BigEndian.Uint16(base[304:306]),
		Class:      base[306],
		SubClass:   base[307],
		Protocol:   base[308],
		ConfigVal:  base[309],
		NumConfigs: base[310],
		NumIfaces:  base[311],
	}

	if withIfaces && dev.NumIfaces > 0 {
		ifaceBuf := make([]byte, int(dev.NumIfaces)*4)
		if err := usbip.ReadExactly(r, ifaceBuf); err != nil {
			return Device{}, err
		}
		for i := 0; i < int(dev.NumIfaces); i++ {
			o := i * 4
			dev.Interfaces = append(dev.Interfaces, usbip.InterfaceDesc{
				Class:    ifaceBuf[o],
				SubClass: ifaceBuf[o+1],
				Protocol: ifaceBuf[o+2],
			})
		}
	}

	return dev, nil
}

// Control runs a control transfer on EP0 and returns the IN data stage,
// if any. The transfer direction follows bit 7 of the setup packet.
func (c *UsbIpClient) Control(conn net.Conn, setup [8]byte, out []byte) ([]byte, error) {
	dir := uint32(usbip.DirOut)
	bufLen := uint32(len(out))
	if setup[0]&0x80 != 0 {
		dir = usbip.DirIn
		bufLen = uint32(binary.LittleEndian.Uint16(setup[6:8]))
	}
	return c.submit(conn, dir, 0, bufLen, setup, out, 750*time.Millisecond)
}

// ReadEndpoint polls an IN endpoint for up to max bytes.
func (c *UsbIpClient) ReadEndpoint(conn net.Conn, ep uint32, max uint32) ([]byte, error) {
	return c.submit(conn, usbip.DirIn, ep, max, [8]byte{}, nil, 250*time.Millisecond)
}

// WriteEndpoint sends data on an OUT endpoint.
func (c *UsbIpClient) WriteEndpoint(conn net.Conn, ep uint32, data []byte) error {
	_, err := c.submit(conn, usbip.DirOut, ep, uint32(len(data)), [8]byte{}, data, 750*time.Millisecond)
	return err
}

func (c *UsbIpClient) submit(conn net.Conn, dir, ep, bufLen uint32, setup [8]byte, out []byte, timeout time.Duration) ([]byte, error) {
	if conn == nil {
		return nil, io.ErrUnexpectedEOF
	}

	cmd := usbip.CmdSubmit{
		Basic:             usbip.HeaderBasic{Command: usbip.CmdSubmitCode, Seqnum: c.nextSeq(), Devid: 0, Dir: dir, Ep: ep},
		TransferBufferLen: bufLen,
		Setup:             setup,
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	if err := cmd.Write(conn); err != nil {
		return nil, err
	}
	if dir == usbip.DirOut && len(out) > 0 {
		if _, err := conn.Write(out); err != nil {
			return nil, err
		}
	}

	var retHdr [48]byte
	if err := usbip.ReadExactly(conn, retHdr[:]); err != nil {
		return nil, err
	}
	if gotCmd := binary.BigEndian.Uint32(retHdr[0:4]); gotCmd != usbip.RetSubmitCode {
		return nil, fmt.Errorf("unexpected ret cmd %x", gotCmd)
	}
	if status := int32(binary.BigEndian.Uint32(retHdr[20:24])); status != 0 {
		return nil, fmt.Errorf("ret status %d", status)
	}

	actual := binary.BigEndian.Uint32(retHdr[24:28])
	if dir != usbip.DirIn || actual == 0 {
		return nil, nil
	}
	data := make([]byte, int(actual))
	if err := usbip.ReadExactly(conn, data); err != nil {
		return nil, err
	}
	return data, nil
}
