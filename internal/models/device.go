package models

import (
	"time"

	"github.com/google/uuid"
)

// Defaults applied when the optional X-Device-* headers are absent
const (
	DefaultDeviceOS      = "N/A"
	DefaultDeviceType    = "Unknown"
	DefaultDeviceBrowser = "DESKTOP"
)

// Device is the single device bound to an account
type Device struct {
	ID              uuid.UUID  `db:"id"`
	AccountID       uuid.UUID  `db:"account_id"`
	FingerprintHash string     `db:"fingerprint_hash"`
	DeviceType      string     `db:"device_type"`
	OS              string     `db:"os"`
	Browser         string     `db:"browser"`
	RegisteredAt    time.Time  `db:"registered_at"`
	LastLoginAt     *time.Time `db:"last_login_at"`
}

// DeviceInfo carries the client-declared device attributes from a request
type DeviceInfo struct {
	Fingerprint string
	DeviceType  string
	OS          string
	Browser     string
}

// WithDefaults fills blank attributes with the documented defaults
func (d DeviceInfo) WithDefaults() DeviceInfo {
	if d.OS == "" {
		d.OS = DefaultDeviceOS
	}
	if d.DeviceType == "" {
		d.DeviceType = DefaultDeviceType
	}
	if d.Browser == "" {
		d.Browser = DefaultDeviceBrowser
	}
	return d
}

// DeviceLogAction is the kind of binding change recorded in device_logs
type DeviceLogAction string

const (
	DeviceLogLink   DeviceLogAction = "LINK"
	DeviceLogUnlink DeviceLogAction = "UNLINK"
)

// DeviceLog is an audit row describing a link or unlink of a device.
// DeviceID is nulled when the referenced device is deleted; Snapshot keeps
// the attributes.
type DeviceLog struct {
	ID        uuid.UUID       `db:"id"`
	AccountID uuid.UUID       `db:"account_id"`
	DeviceID  *uuid.UUID      `db:"device_id"`
	Action    DeviceLogAction `db:"action"`
	Snapshot  DeviceSnapshot  `db:"snapshot"`
	CreatedAt time.Time       `db:"created_at"`
}

// DeviceSnapshot is the JSON document stored with each device log row
type DeviceSnapshot struct {
	DeviceID     uuid.UUID `json:"device_id"`
	DeviceType   string    `json:"device_type"`
	OS           string    `json:"os"`
	Browser      string    `json:"browser"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Snapshot captures the loggable attributes of the device
func (d *Device) Snapshot() DeviceSnapshot {
	return DeviceSnapshot{
		DeviceID:     d.ID,
		DeviceType:   d.DeviceType,
		OS:           d.OS,
		Browser:      d.Browser,
		RegisteredAt: d.RegisteredAt,
	}
}
