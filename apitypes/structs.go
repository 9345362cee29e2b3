package apitypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// PortStatus is the decoded state of one controller port.
type PortStatus struct {
	Port       int   `json:"port"`
	Connected  bool  `json:"connected"`
	Enumerated bool  `json:"enumerated"`
	X          int8  `json:"x"`
	Y          int8  `json:"y"`
	Buttons    uint8 `json:"buttons"`
}

// LoopStats are the acquisition loop counters.
type LoopStats struct {
	Ticks           uint64 `json:"ticks"`
	Reports         uint64 `json:"reports"`
	PresenceChanges uint64 `json:"presenceChanges"`
}

type StatusResponse struct {
	Mask          uint8        `json:"mask"`
	Reconfiguring bool         `json:"reconfiguring"`
	Cycles        uint64       `json:"cycles"`
	Ports         []PortStatus `json:"ports"`
	Stats         LoopStats    `json:"stats"`
}

type MaskResponse struct {
	Mask uint8 `json:"mask"`
}

type LogResponse struct {
	Lines []string `json:"lines"`
}

// PadSetRequest drives a feeder-backed port. Raw takes precedence over
// the decoded fields when both are given.
type PadSetRequest struct {
	Raw       *uint32 `json:"raw,omitempty"`
	Connected *bool   `json:"connected,omitempty"`
	X         *int8   `json:"x,omitempty"`
	Y         *int8   `json:"y,omitempty"`
	Buttons   *uint8  `json:"buttons,omitempty"`
}

// UnmarshalJSON accepts both numbers and hex strings (e.g. "0x55000001")
// for the raw sample word.
func (p *PadSetRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Raw       any   `json:"raw,omitempty"`
		Connected *bool `json:"connected,omitempty"`
		X         *int8 `json:"x,omitempty"`
		Y         *int8 `json:"y,omitempty"`
		Buttons   any   `json:"buttons,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Connected = raw.Connected
	p.X = raw.X
	p.Y = raw.Y

	if raw.Raw != nil {
		val, err := parseUint32OrHex(raw.Raw)
		if err != nil {
			return fmt.Errorf("raw: %w", err)
		}
		p.Raw = &val
	}
	if raw.Buttons != nil {
		val, err := parseUint32OrHex(raw.Buttons)
		if err != nil {
			return fmt.Errorf("buttons: %w", err)
		}
		if val > 0xFF {
			return fmt.Errorf("buttons: value %#x out of uint8 range", val)
		}
		b := uint8(val)
		p.Buttons = &b
	}
	return nil
}

// parseUint32OrHex accepts either a JSON number or a hex string like "0x55000001"
func parseUint32OrHex(v any) (uint32, error) {
	switch val := v.(type) {
	case float64:
		if val < 0 || val > 0xFFFFFFFF {
			return 0, fmt.Errorf("value %v out of uint32 range", val)
		}
		return uint32(val), nil
	case string:
		s := strings.TrimSpace(val)
		base := 10
		if strings.HasPrefix(strings.ToLower(s), "0x") {
			s = s[2:]
			base = 16
		} else if len(s) > 0 {
			if strings.ContainsAny(s, "abcdefABCDEF") {
				base = 16
			}
		}
		parsed, err := strconv.ParseUint(s, base, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid hex/numeric string %q: %w", val, err)
		}
		return uint32(parsed), nil
	default:
		return 0, fmt.Errorf("expected number or hex string, got %T", v)
	}
}
