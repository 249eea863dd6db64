package models

import (
	"time"

	"gorm.io/gorm"
)

// Gig — a paid testing campaign. Testers are provisioned into it via the admin API.
type Gig struct {
	gorm.Model
	GigID string `gorm:"column:gig_id;type:varchar(64);uniqueIndex"`
	Name  string
}

// Tester — a participant slot within one gig. Binding fields are empty until
// the first claim/heartbeat; Locked is sticky once set.
type Tester struct {
	gorm.Model
	GigID            string `gorm:"column:gig_id;type:varchar(64);uniqueIndex:idx_gig_tester,priority:1"`
	TesterID         string `gorm:"column:tester_id;type:varchar(64);uniqueIndex:idx_gig_tester,priority:2"`
	DeviceID         string `gorm:"column:device_id;type:varchar(128);index"`
	InstallID        string `gorm:"column:install_id;type:varchar(128)"`
	IsEmulator       bool
	Locked           bool
	SuspiciousDevice string `gorm:"type:varchar(128)"`
	LastSessionID    string `gorm:"column:last_session_id;type:varchar(128)"`
	LastSeen         *time.Time
}

// DayBucket — per-tester per-UTC-day engagement summary. Opens counts distinct
// accepted event timestamps; Timestamps holds them as a sorted JSON array.
type DayBucket struct {
	gorm.Model
	GigID       string    `gorm:"column:gig_id;type:varchar(64);uniqueIndex:idx_day,priority:1"`
	TesterID    string    `gorm:"column:tester_id;type:varchar(64);uniqueIndex:idx_day,priority:2"`
	DateKey     string    `gorm:"column:date_key;type:varchar(10);uniqueIndex:idx_day,priority:3"` // YYYY-MM-DD
	Opens       int
	Timestamps  string    `gorm:"type:text"`
	LastUpdated time.Time `gorm:"index"`
}

// Device — global (cross-gig) device record. Association sets only grow.
type Device struct {
	gorm.Model
	DeviceID  string `gorm:"column:device_id;type:varchar(128);uniqueIndex"`
	TesterIDs string `gorm:"column:tester_ids;type:text"` // JSON string set
	GigIDs    string `gorm:"column:gig_ids;type:text"`    // JSON string set
	Flagged   bool
	LastUsed  *time.Time
}

// DeviceBinding — secondary index for device-collision checks: which tester
// holds this device within a gig. Maintained by the binding registry.
type DeviceBinding struct {
	gorm.Model
	GigID    string `gorm:"column:gig_id;type:varchar(64);uniqueIndex:idx_binding,priority:1"`
	DeviceID string `gorm:"column:device_id;type:varchar(128);uniqueIndex:idx_binding,priority:2"`
	TesterID string `gorm:"column:tester_id;type:varchar(64);uniqueIndex:idx_binding,priority:3"`
}

// Install — one app install, bound to exactly one (gig, tester) pair.
// Immutable after the claim except re-claim by the same tester.
type Install struct {
	gorm.Model
	InstallID   string `gorm:"column:install_id;type:varchar(128);uniqueIndex"`
	GigID       string `gorm:"column:gig_id;type:varchar(64);index"`
	TesterID    string `gorm:"column:tester_id;type:varchar(64)"`
	DeviceID    string `gorm:"column:device_id;type:varchar(128)"`
	PackageName string `gorm:"type:varchar(255)"`
	ClaimedAt   time.Time
}

// ClaimCode — one-time code that establishes the initial binding.
type ClaimCode struct {
	gorm.Model
	Code            string `gorm:"type:varchar(64);uniqueIndex"`
	GigID           string `gorm:"column:gig_id;type:varchar(64);index"`
	TesterID        string `gorm:"column:tester_id;type:varchar(64)"`
	PackageName     string `gorm:"type:varchar(255)"`
	ExpiresAt       time.Time
	Used            bool
	UsedAt          *time.Time
	UsedByInstallID string `gorm:"column:used_by_install_id;type:varchar(128)"`
}
