// Package usb serves the adapter as a USB/IP device: management ops
// (devlist/import) followed by a URB stream against the composite
// configuration current at enumeration time. It also implements the
// composite.Link bounce by dropping attached clients so the host
// re-imports and re-enumerates.
package usb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/log"
	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/usb"
	"github.com/quadpad/quadpad/usb/hid"
	"github.com/quadpad/quadpad/usbip"
)

const (
	// USB standard request codes
	usbReqGetStatus        = 0x00
	usbReqSetAddress       = 0x05
	usbReqGetDescriptor    = 0x06
	usbReqGetConfiguration = 0x08
	usbReqSetConfiguration = 0x09

	// USB request types (bmRequestType)
	usbReqTypeStandardToDevice    = 0x00
	usbReqTypeStandardToInterface = 0x81
	usbReqTypeStandardFromDevice  = 0x80
	usbReqTypeClassToInterface    = 0x21
	usbReqTypeClassFromInterface  = 0xA1

	usbConfigValueDefault = 1

	// URB header field offsets
	urbHdrSize          = 0x30
	urbHdrOffsetCommand = 0x00
	urbHdrOffsetSeqnum  = 0x04
	urbHdrOffsetDevid   = 0x08
	urbHdrOffsetDir     = 0x0c
	urbHdrOffsetEp      = 0x10
	urbHdrOffsetUnlink  = 0x14
	urbHdrOffsetLength  = 0x18
	urbHdrOffsetSetup   = 0x28

	// Standard header peek size
	headerPeekSize = 8

	// BUSID buffer size for import
	busIDSize = 32

	// Error codes
	errConnReset = -104 // -ECONNRESET
	errNoDevice  = 1    // management op status: device unavailable
)

// SerialPort is the byte stream behind the CDC data endpoints. Feed
// carries host-to-device bytes, Drain returns up to max pending
// device-to-host bytes. Both must be safe for concurrent use.
type SerialPort interface {
	Feed(p []byte)
	Drain(max int) []byte
}

// Server is the USB/IP transport for the one composite adapter device.
type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger

	desc   usb.Descriptor
	mgr    *composite.Manager
	cells  *pad.Cells
	serial SerialPort

	mu     sync.Mutex
	linkUp bool
	conns  map[net.Conn]struct{}

	lineMu     sync.Mutex
	lineCoding usb.LineCoding

	ready     chan struct{}
	readyOnce sync.Once
	ln        net.Listener
}

func New(config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger, cells *pad.Cells) *Server {
	return &Server{
		config:     &config,
		logger:     logger,
		rawLogger:  rawLogger,
		desc:       identity(),
		cells:      cells,
		linkUp:     true,
		conns:      make(map[net.Conn]struct{}),
		lineCoding: usb.LineCoding{DwDTERate: 115200, BDataBits: 8},
		ready:      make(chan struct{}),
	}
}

// Bind attaches the composite manager and the serial byte stream. Must
// be called before ListenAndServe; it is separate from New because the
// manager needs the server as its Link and the console needs the
// manager.
func (s *Server) Bind(mgr *composite.Manager, serial SerialPort) {
	s.mgr = mgr
	s.serial = serial
}

// Down implements composite.Link: the device detaches from the bus.
// Attached clients are dropped so the host tears down its binding; new
// imports are refused until Up.
func (s *Server) Down() {
	s.mu.Lock()
	s.linkUp = false
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if len(conns) > 0 {
		s.logger.Info("Link down, dropped attached clients", "count", len(conns))
	}
}

// Up implements composite.Link: the device offers itself again.
func (s *Server) Up() {
	s.mu.Lock()
	s.linkUp = true
	s.mu.Unlock()
}

func (s *Server) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.linkUp {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// ListenAndServe starts the USB/IP server and handles incoming connections.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("USBIP server listening", "addr", s.config.Addr)
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				s.logger.Info("USBIP server stopped")
				return nil
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		s.logger.Info("Client connected", "remote", c.RemoteAddr())
		go func() {
			if err := s.handleConn(c); err != nil {
				if isClientDisconnect(err) {
					s.logger.Info("Client disconnected", "error", err)
				} else {
					s.logger.Error("Connection handler error", "error", err)
				}
			}
		}()
	}
}

// Ready returns a channel that is closed once the server has successfully bound
// to its listen address and is ready to accept connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Close stops the USB server by closing its listener.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Addr returns the bound listen address. Valid once Ready has fired.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.config.Addr
	}
	return s.ln.Addr().String()
}

// GetListenPort extracts and returns the port number from the server's listen address.
func (s *Server) GetListenPort() uint16 {
	_, portStr, err := net.SplitHostPort(s.config.Addr)
	if err != nil {
		return 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

// --

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()
	conn = &logConn{Conn: conn, s: s}
	if err := conn.SetDeadline(time.Now().Add(s.config.ConnectionTimeout)); err != nil {
		s.logger.Warn("Failed to set deadline", "error", err)
	}

	// Peek first 8 bytes to determine the management op.
	var hdrBuf [headerPeekSize]byte
	if err := usbip.ReadExactly(conn, hdrBuf[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	ver := binary.BigEndian.Uint16(hdrBuf[0:2])
	code := binary.BigEndian.Uint16(hdrBuf[2:4])

	if ver == usbip.Version && (code == usbip.OpReqDevlist || code == usbip.OpReqImport) {
		switch code {
		case usbip.OpReqDevlist:
			s.logger.Info("OP_REQ_DEVLIST")
			return s.handleDevList(conn)
		case usbip.OpReqImport:
			s.logger.Info("OP_REQ_IMPORT")
			if err := s.handleImport(conn); err != nil {
				return fmt.Errorf("handle import: %w", err)
			}
			return s.handleUrbStream(conn)
		}
	}

	return fmt.Errorf("protocol violation: client sent URB data without OP_REQ_IMPORT")
}

// exportedDevice describes the adapter with the interface set of the
// current active mask.
func (s *Server) exportedDevice(layout composite.Layout) usbip.ExportedDevice {
	exp := usbip.ExportedDevice{
		ExportMeta:          usbip.NewExportMeta("/sys/devices/platform/quadpad/usb1/"+busID, busID, 1, 1<<16|2),
		Speed:               s.desc.Device.Speed,
		IDVendor:            s.desc.Device.IDVendor,
		IDProduct:           s.desc.Device.IDProduct,
		BcdDevice:           s.desc.Device.BcdDevice,
		BDeviceClass:        s.desc.Device.BDeviceClass,
		BDeviceSubClass:     s.desc.Device.BDeviceSubClass,
		BDeviceProtocol:     s.desc.Device.BDeviceProtocol,
		BConfigurationValue: usbConfigValueDefault,
		BNumConfigurations:  s.desc.Device.BNumConfigurations,
		BNumInterfaces:      uint8(layout.NumInterfaces()),
		Interfaces: []usbip.InterfaceDesc{
			{Class: usb.ClassCDC, SubClass: usb.SubclassACM},
			{Class: usb.ClassCDCData},
		},
	}
	for range layout.Ports {
		exp.Interfaces = append(exp.Interfaces, usbip.InterfaceDesc{Class: usb.ClassHID})
	}
	return exp
}

func (s *Server) handleDevList(conn net.Conn) error {
	_ = conn.SetDeadline(time.Time{})

	s.mu.Lock()
	up := s.linkUp
	s.mu.Unlock()

	var buf bytes.Buffer
	rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepDevlist, Status: 0}
	_ = rep.Write(&buf)
	if !up {
		// Detached mid-cycle: the bus is momentarily empty.
		dlh := usbip.DevListReplyHeader{NDevices: 0}
		_ = dlh.Write(&buf)
	} else {
		dlh := usbip.DevListReplyHeader{NDevices: 1}
		_ = dlh.Write(&buf)
		exp := s.exportedDevice(s.mgr.Layout())
		_ = exp.WriteDevlist(&buf)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write devlist: %w", err)
	}
	return nil
}

func (s *Server) handleImport(conn net.Conn) error {
	var rest [busIDSize]byte
	if err := usbip.ReadExactly(conn, rest[:]); err != nil {
		return fmt.Errorf("read import busid: %w", err)
	}
	reqBus := string(rest[:bytes.IndexByte(rest[:], 0)])
	s.logger.Info("Import request", "busid", reqBus)

	s.mu.Lock()
	up := s.linkUp
	s.mu.Unlock()

	if reqBus != busID || !up {
		var buf bytes.Buffer
		rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport, Status: errNoDevice}
		_ = rep.Write(&buf)
		_, _ = conn.Write(buf.Bytes())
		if !up {
			return fmt.Errorf("device detached, refusing import of %s", reqBus)
		}
		return fmt.Errorf("no device matches busid %s", reqBus)
	}

	var buf bytes.Buffer
	rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport, Status: 0}
	_ = rep.Write(&buf)
	exp := s.exportedDevice(s.mgr.Layout())
	if err := exp.WriteImport(&buf); err != nil {
		return fmt.Errorf("build import reply: %w", err)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write import reply failed: %w", err)
	}
	return nil
}

type logConn struct {
	net.Conn
	s *Server
}

func (lc *logConn) Read(p []byte) (int, error) {
	n, err := lc.Conn.Read(p)
	if n > 0 && lc.s.rawLogger != nil {
		lc.s.rawLogger.Log(true, p[:n])
	}
	return n, err
}

func (lc *logConn) Write(p []byte) (int, error) {
	n, err := lc.Conn.Write(p)
	if n > 0 && lc.s.rawLogger != nil {
		lc.s.rawLogger.Log(false, p[:n])
	}
	return n, err
}

func (s *Server) handleUrbStream(conn net.Conn) error {
	_ = conn.SetDeadline(time.Time{})

	if !s.trackConn(conn) {
		return fmt.Errorf("device detached before URB stream started")
	}
	defer s.untrackConn(conn)

	for {
		var hdr [urbHdrSize]byte
		if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
			return fmt.Errorf("read URB header: %w", err)
		}
		cmd := binary.BigEndian.Uint32(hdr[urbHdrOffsetCommand : urbHdrOffsetCommand+4])
		seq := binary.BigEndian.Uint32(hdr[urbHdrOffsetSeqnum : urbHdrOffsetSeqnum+4])
		devid := binary.BigEndian.Uint32(hdr[urbHdrOffsetDevid : urbHdrOffsetDevid+4])
		dir := binary.BigEndian.Uint32(hdr[urbHdrOffsetDir : urbHdrOffsetDir+4])
		ep := binary.BigEndian.Uint32(hdr[urbHdrOffsetEp : urbHdrOffsetEp+4])
		if cmd == usbip.CmdUnlinkCode {
			unlinkSeq := binary.BigEndian.Uint32(hdr[urbHdrOffsetUnlink : urbHdrOffsetUnlink+4])
			s.logger.Debug("USBIP_CMD_UNLINK", "seq", seq, "unlink", unlinkSeq)
			// Reply with -ECONNRESET
			ret := usbip.RetUnlink{Basic: usbip.HeaderBasic{Command: usbip.RetUnlinkCode, Seqnum: seq}, Status: errConnReset}
			_ = ret.Write(conn)
			continue
		}
		if cmd != usbip.CmdSubmitCode {
			return fmt.Errorf("unsupported cmd %d (seq=%d, devid=%d)", cmd, seq, devid)
		}
		xferLen := binary.BigEndian.Uint32(hdr[urbHdrOffsetLength : urbHdrOffsetLength+4])
		setup := hdr[urbHdrOffsetSetup:urbHdrSize]

		var outPayload []byte
		if dir == usbip.DirOut && xferLen > 0 {
			outPayload = make([]byte, xferLen)
			if err := usbip.ReadExactly(conn, outPayload); err != nil {
				return fmt.Errorf("read OUT payload: %w", err)
			}
		}

		respData := s.processSubmit(ep, dir, setup, outPayload)

		ret := usbip.RetSubmit{
			Basic:        usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: seq},
			ActualLength: uint32(len(respData)),
		}
		var out bytes.Buffer
		if err := ret.Write(&out); err != nil {
			return fmt.Errorf("build RET_SUBMIT header: %w", err)
		}
		if len(respData) > 0 {
			out.Write(respData)
		}
		if _, err := conn.Write(out.Bytes()); err != nil {
			return fmt.Errorf("write RET_SUBMIT: %w", err)
		}
	}
}

// isClientDisconnect tests whether an error represents a normal client
// disconnect (EOF, ECONNRESET, broken pipe, a connection we closed
// ourselves during a link bounce, or the Windows WSAECONNRESET
// translated error). Those log at Info level instead of Error.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// On many platforms the underlying error will be a syscall.Errno
		switch t := opErr.Err.(type) {
		case syscall.Errno:
			if t == syscall.ECONNRESET || t == syscall.EPIPE {
				return true
			}
		}
	}
	// Fallback to checking the message for platform-specific strings.
	e := strings.ToLower(err.Error())
	if strings.Contains(e, "connection reset by peer") || strings.Contains(e, "forcibly closed") || strings.Contains(e, "use of closed network connection") || strings.Contains(e, "aborted") {
		return true
	}
	return false
}

// processSubmit services one URB: control transfers on EP0, otherwise
// the class endpoints of the current layout.
func (s *Server) processSubmit(ep uint32, dir uint32, setup []byte, out []byte) []byte {
	if ep != 0 {
		return s.handleTransfer(ep, dir, out)
	}
	if len(setup) != 8 {
		return nil
	}
	bm := setup[0]
	breq := setup[1]
	wValue := binary.LittleEndian.Uint16(setup[2:4])
	wIndex := binary.LittleEndian.Uint16(setup[4:6])
	wLength := binary.LittleEndian.Uint16(setup[6:8])

	switch bm {
	case usbReqTypeStandardToDevice:
		// SET_ADDRESS / SET_CONFIGURATION need no data stage.
		if breq == usbReqSetAddress || breq == usbReqSetConfiguration {
			return nil
		}
	case usbReqTypeStandardFromDevice:
		switch breq {
		case usbReqGetStatus:
			return clampToLength([]byte{0x00, 0x00}, wLength)
		case usbReqGetConfiguration:
			return []byte{usbConfigValueDefault}
		case usbReqGetDescriptor:
			return clampToLength(s.deviceDescriptor(wValue), wLength)
		}
	case usbReqTypeStandardToInterface:
		if breq == usbReqGetDescriptor {
			return clampToLength(s.interfaceDescriptor(wValue, wIndex), wLength)
		}
	case usbReqTypeClassToInterface:
		switch breq {
		case usb.CDCSetLineCoding:
			if lc, ok := usb.ParseLineCoding(out); ok {
				s.lineMu.Lock()
				s.lineCoding = lc
				s.lineMu.Unlock()
				s.logger.Debug("CDC line coding set", "baud", lc.DwDTERate)
			}
		case usb.CDCSetControlLineState:
			s.logger.Debug("CDC control line state", "value", wValue)
		}
		return nil
	case usbReqTypeClassFromInterface:
		if breq == usb.CDCGetLineCoding {
			s.lineMu.Lock()
			lc := s.lineCoding
			s.lineMu.Unlock()
			return clampToLength(lc.Bytes(), wLength)
		}
	}
	return nil
}

// deviceDescriptor answers device-directed GET_DESCRIPTOR requests. The
// configuration descriptor is rebuilt on every request from the mask
// current at that instant.
func (s *Server) deviceDescriptor(wValue uint16) []byte {
	dtype := uint8(wValue >> 8)
	dindex := uint8(wValue & 0xff)
	switch dtype {
	case usb.DeviceDescType:
		return s.desc.Bytes()
	case usb.ConfigDescType:
		return s.mgr.BuildConfigDescriptor()
	case usb.StringDescType:
		if str, ok := s.desc.Strings[dindex]; ok {
			return usb.EncodeStringDescriptor(str)
		}
	}
	return nil
}

// interfaceDescriptor answers interface-directed GET_DESCRIPTOR
// requests: the HID class and report descriptors of an enumerated
// gamepad interface.
func (s *Server) interfaceDescriptor(wValue, wIndex uint16) []byte {
	layout := s.mgr.Layout()
	if _, ok := layout.PortForInterface(int(wIndex)); !ok {
		return nil
	}
	switch uint8(wValue >> 8) {
	case usb.HIDDescType:
		var b bytes.Buffer
		usb.HIDDescriptor{
			BcdHID:            0x0111,
			BNumDescriptors:   1,
			ClassDescType:     usb.ReportDescType,
			WDescriptorLength: uint16(len(hid.GamepadBytes())),
		}.Write(&b)
		return b.Bytes()
	case usb.ReportDescType:
		return hid.GamepadBytes()
	}
	return nil
}

// handleTransfer services the class endpoints: CDC bulk pair and the
// per-port HID interrupt IN endpoints of the current layout.
func (s *Server) handleTransfer(ep uint32, dir uint32, out []byte) []byte {
	epAddr := uint8(ep & 0x0F)
	if dir == usbip.DirOut {
		if epAddr == EPCDCOutNum && s.serial != nil {
			s.serial.Feed(out)
		}
		return nil
	}

	switch epAddr {
	case EPCDCNotifNum:
		// Nothing to notify; the host keeps polling.
		return nil
	case EPCDCInNum:
		if s.serial == nil {
			return nil
		}
		return s.serial.Drain(64)
	default:
		port, ok := s.mgr.Layout().PortForEndpoint(epAddr)
		if !ok {
			return nil
		}
		report := s.cells[port].Load().Report()
		return report[:]
	}
}

// Endpoint numbers (without the direction bit) of the fixed interfaces.
const (
	EPCDCNotifNum = composite.EPCDCNotif & 0x0F
	EPCDCOutNum   = composite.EPCDCOut & 0x0F
	EPCDCInNum    = composite.EPCDCIn & 0x0F
)

func clampToLength(data []byte, wLength uint16) []byte {
	if len(data) == 0 {
		return nil
	}
	if int(wLength) < len(data) {
		return data[:wLength]
	}
	return data
}
