package model

import (
	"fmt"
	"strings"
	"time"
)

// AckLayout is the layout of acknowledgement and cancel timestamps.
const AckLayout = "2006-01-02 15:04:05"

// RegistryLocation is the zone the Registry stamps acknowledgements in.
var RegistryLocation = loadRegistryLocation()

func loadRegistryLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+1800)
}

// Status of a registration as held by the Registry.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusPending   Status = "PENDING"
	StatusFailed    Status = "FAILED"
)

// ParseStatus accepts both the long names and the Registry short codes (ACT, CNL).
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACT", "ACTIVE":
		return StatusActive, nil
	case "CNL", "CANCELLED", "CANCELED":
		return StatusCancelled, nil
	case "PEN", "PENDING":
		return StatusPending, nil
	case "FAIL", "FAILED":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown registration status %q", s)
}

// RegistrationRecord is the Registry's authoritative state for one document.
type RegistrationRecord struct {
	IRN           string    `json:"irn"`
	AckNo         int64     `json:"ackNo"`
	AckDate       time.Time `json:"ackDate"`
	SignedInvoice string    `json:"signedInvoice"`
	SignedQRCode  string    `json:"signedQrCode"`
	Status        Status    `json:"status"`
	EwbNo         *int64    `json:"ewbNo,omitempty"`
	EwbDate       string    `json:"ewbDate,omitempty"`
	EwbValidTill  string    `json:"ewbValidTill,omitempty"`
}

// RecordFromResponse converts a wire response into a RegistrationRecord.
// Pending and failed registrations may carry no acknowledgement; AckDate is then zero.
func RecordFromResponse(r *RegistrationResponse) (*RegistrationRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("registration response is nil")
	}
	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	var ack time.Time
	switch {
	case strings.TrimSpace(r.AckDt) != "":
		if ack, err = ParseAckTime(r.AckDt); err != nil {
			return nil, fmt.Errorf("ackDt: %w", err)
		}
	case status == StatusActive || status == StatusCancelled:
		return nil, fmt.Errorf("ackDt: required for %s registrations", status)
	}
	return &RegistrationRecord{
		IRN:           r.Irn,
		AckNo:         r.AckNo,
		AckDate:       ack,
		SignedInvoice: r.SignedInvoice,
		SignedQRCode:  r.SignedQrCode,
		Status:        status,
		EwbNo:         r.EwbNo,
		EwbDate:       r.EwbDt,
		EwbValidTill:  r.EwbValidTill,
	}, nil
}

// ParseAckTime parses a Registry timestamp in RegistryLocation.
func ParseAckTime(s string) (time.Time, error) {
	return time.ParseInLocation(AckLayout, strings.TrimSpace(s), RegistryLocation)
}

// FormatAckTime is the inverse of ParseAckTime.
func FormatAckTime(t time.Time) string {
	return t.In(RegistryLocation).Format(AckLayout)
}
