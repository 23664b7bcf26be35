package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sstallion/go-hid"
)

// APC Back-UPS USB identifiers. Report IDs below were verified on a
// Back-UPS RS 1500G and likely work across the Back-UPS USB family.
const (
	apcVendorID  = 0x051D
	apcProductID = 0x0002
)

// HID feature report IDs polled on every read.
const (
	reportStatus              = 0x16
	reportSelfTestResult      = 0x21
	reportChargePct           = 0x22
	reportRuntimeSec          = 0x23
	reportBatteryNominalVolts = 0x25
	reportBatteryVolts        = 0x26
	reportInputNominalVolts   = 0x30
	reportInputVolts          = 0x31
	reportLowTransferVolts    = 0x32
	reportHighTransferVolts   = 0x33
	reportSensitivity         = 0x35
	reportLastTransferCause   = 0x36
)

// Reports that decode as uint16 little-endian; all others are single bytes.
var u16Reports = map[byte]bool{
	reportRuntimeSec:          true,
	reportBatteryVolts:        true,
	reportBatteryNominalVolts: true,
	reportInputVolts:          true,
	reportLowTransferVolts:    true,
	reportHighTransferVolts:   true,
}

var transferCauses = map[int]string{
	0: "No transfer",
	1: "High line voltage",
	2: "Brownout",
	3: "Blackout",
	4: "Small sag",
	5: "Large sag",
	6: "Small spike",
	7: "Large spike",
	8: "Self test",
	9: "Rate of voltage change",
}

// OpenError means the UPS could not be opened at all. There is no
// recovery path; callers should surface it and exit.
type OpenError struct {
	VendorID  uint16
	ProductID uint16
	Err       error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open UPS %04x:%04x: %v", e.VendorID, e.ProductID, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError means a single poll failed. The cycle is skipped; the next
// scheduled poll is the only retry.
type ReadError struct {
	Report byte
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read feature report 0x%02x: %v", e.Report, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// UPSStatus is one decoded snapshot of the UPS.
type UPSStatus struct {
	Timestamp time.Time `json:"timestamp"`

	// Power state
	ACPresent bool `json:"ac_present"`
	Charging  bool `json:"charging"`

	// Battery
	ChargePct             int     `json:"charge_pct"`
	RuntimeSec            int     `json:"runtime_sec"`
	BatteryVoltage        float64 `json:"battery_voltage"`
	BatteryNominalVoltage float64 `json:"battery_nominal_voltage"`

	// Input
	InputVoltage        int `json:"input_voltage"`
	InputNominalVoltage int `json:"input_nominal_voltage"`
	LowTransferVoltage  int `json:"low_transfer_voltage"`
	HighTransferVoltage int `json:"high_transfer_voltage"`

	// Raw status
	StatusRaw         byte `json:"status_raw"`
	LastTransferCause int  `json:"last_transfer_cause"`
	Sensitivity       int  `json:"sensitivity"`
	SelfTestResult    int  `json:"self_test_result"`
}

func (s UPSStatus) OnBattery() bool { return !s.ACPresent }

func (s UPSStatus) RuntimeMin() float64 { return float64(s.RuntimeSec) / 60.0 }

func (s UPSStatus) StatusStr() string {
	if !s.ACPresent {
		return "ON BATTERY"
	}
	if s.ChargePct >= 100 {
		return "ONLINE"
	}
	return "ONLINE (charging)"
}

func (s UPSStatus) TransferCauseStr() string {
	if name, ok := transferCauses[s.LastTransferCause]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", s.LastTransferCause)
}

// MarshalJSON exposes the derived fields alongside the stored ones so a
// --json single read carries everything by name.
func (s UPSStatus) MarshalJSON() ([]byte, error) {
	type plain UPSStatus
	return json.Marshal(struct {
		plain
		OnBattery        bool    `json:"on_battery"`
		RuntimeMin       float64 `json:"runtime_min"`
		StatusStr        string  `json:"status_str"`
		TransferCauseStr string  `json:"transfer_cause_str"`
	}{
		plain:            plain(s),
		OnBattery:        s.OnBattery(),
		RuntimeMin:       s.RuntimeMin(),
		StatusStr:        s.StatusStr(),
		TransferCauseStr: s.TransferCauseStr(),
	})
}

func (s UPSStatus) Summary() string {
	lines := []string{
		fmt.Sprintf("Status:    %s", s.StatusStr()),
		fmt.Sprintf("Charge:    %d%%", s.ChargePct),
		fmt.Sprintf("Runtime:   %.1f min (%d sec)", s.RuntimeMin(), s.RuntimeSec),
		fmt.Sprintf("Batt V:    %.2fV (nominal %.2fV)", s.BatteryVoltage, s.BatteryNominalVoltage),
		fmt.Sprintf("Input V:   %dV (nominal %dV)", s.InputVoltage, s.InputNominalVoltage),
		fmt.Sprintf("Transfer:  %dV low / %dV high", s.LowTransferVoltage, s.HighTransferVoltage),
		fmt.Sprintf("Last xfer: %s", s.TransferCauseStr()),
	}
	return strings.Join(lines, "\n")
}

func (s UPSStatus) Oneliner() string {
	state := "AC"
	if s.OnBattery() {
		state = "BATT"
	}
	return fmt.Sprintf("[%s] %d%% | %.0fmin | %dV in | %.1fV batt",
		state, s.ChargePct, s.RuntimeMin(), s.InputVoltage, s.BatteryVoltage)
}

// featureDevice is the slice of go-hid's Device the reader needs. Tests
// substitute a canned implementation.
type featureDevice interface {
	GetFeatureReport(b []byte) (int, error)
	Close() error
}

// UPSReader owns the HID handle for the UPS. The handle is opened once
// before the poll loop starts and closed on shutdown; nothing else ever
// touches it.
type UPSReader struct {
	vid uint16
	pid uint16
	dev featureDevice

	Product string
	Serial  string
}

func NewUPSReader(vid, pid uint16) *UPSReader {
	return &UPSReader{vid: vid, pid: pid}
}

// Open claims the first matching HID interface and records the device
// identity strings.
func (r *UPSReader) Open() error {
	d, err := hid.OpenFirst(r.vid, r.pid)
	if err != nil {
		return &OpenError{VendorID: r.vid, ProductID: r.pid, Err: err}
	}
	if prod, err := d.GetProductStr(); err == nil {
		r.Product = prod
	}
	if serial, err := d.GetSerialNbr(); err == nil {
		r.Serial = strings.TrimSpace(serial)
	}
	r.dev = d
	return nil
}

func (r *UPSReader) Close() error {
	if r.dev == nil {
		return nil
	}
	err := r.dev.Close()
	r.dev = nil
	return err
}

func (r *UPSReader) readFeature(reportID byte) ([]byte, error) {
	if r.dev == nil {
		return nil, &ReadError{Report: reportID, Err: fmt.Errorf("device not open")}
	}
	buf := make([]byte, 8)
	buf[0] = reportID
	n, err := r.dev.GetFeatureReport(buf)
	if err != nil {
		return nil, &ReadError{Report: reportID, Err: err}
	}
	return buf[:n], nil
}

// decodeU16 pulls a little-endian uint16 out of a feature report. The
// report ID occupies byte 0. Short reports decode to 0 rather than
// failing; truncation is a device quirk, not an error.
func decodeU16(data []byte) int {
	if len(data) < 3 {
		return 0
	}
	return int(data[1]) | int(data[2])<<8
}

func decodeU8(data []byte) int {
	if len(data) < 2 {
		return 0
	}
	return int(data[1])
}

func (r *UPSReader) readReport(reportID byte) (int, error) {
	data, err := r.readFeature(reportID)
	if err != nil {
		return 0, err
	}
	if u16Reports[reportID] {
		return decodeU16(data), nil
	}
	return decodeU8(data), nil
}

// Read queries all twelve feature reports and returns one fully decoded
// snapshot. If any single report read fails the whole read fails; no
// partial snapshot is ever returned.
func (r *UPSReader) Read() (*UPSStatus, error) {
	raw := make(map[byte]int, 12)
	for _, id := range []byte{
		reportChargePct, reportRuntimeSec,
		reportBatteryVolts, reportBatteryNominalVolts,
		reportInputVolts, reportInputNominalVolts,
		reportLowTransferVolts, reportHighTransferVolts,
		reportStatus, reportLastTransferCause,
		reportSensitivity, reportSelfTestResult,
	} {
		v, err := r.readReport(id)
		if err != nil {
			return nil, err
		}
		raw[id] = v
	}

	// Bit 0 of the status byte tracks "charging", not "AC present". It
	// clears once the battery hits 100% even while still on mains, so AC
	// state has to come from the measured input voltage instead: a true
	// outage reads 0V input.
	statusByte := raw[reportStatus]
	inputV := raw[reportInputVolts]

	return &UPSStatus{
		Timestamp:             time.Now(),
		ACPresent:             inputV > 0,
		Charging:              statusByte&0x01 != 0,
		ChargePct:             raw[reportChargePct],
		RuntimeSec:            raw[reportRuntimeSec],
		BatteryVoltage:        float64(raw[reportBatteryVolts]) / 100.0,
		BatteryNominalVoltage: float64(raw[reportBatteryNominalVolts]) / 100.0,
		InputVoltage:          inputV,
		InputNominalVoltage:   raw[reportInputNominalVolts],
		LowTransferVoltage:    raw[reportLowTransferVolts],
		HighTransferVoltage:   raw[reportHighTransferVolts],
		StatusRaw:             byte(statusByte),
		LastTransferCause:     raw[reportLastTransferCause],
		Sensitivity:           raw[reportSensitivity],
		SelfTestResult:        raw[reportSelfTestResult],
	}, nil
}
