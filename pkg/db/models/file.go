package models

import "time"

// CopyStatus is the copy lifecycle of a file record.
type CopyStatus string

const (
	// CopyPending has not been verified yet; it may have failed attempts below the ceiling.
	CopyPending CopyStatus = "pending"
	// CopyVerified has a remote artifact whose checksum matched local_md5sum.
	CopyVerified CopyStatus = "verified"
	// CopyFailed reached the attempt ceiling and is left for operator attention.
	CopyFailed CopyStatus = "failed"
)

func (s CopyStatus) Valid() bool {
	switch s {
	case CopyPending, CopyVerified, CopyFailed:
		return true
	}
	return false
}

// File tracks the transfer and retention lifecycle of one local file.
// Rows are never deleted; they remain as an audit trail after removal.
type File struct {
	ID          uint   `gorm:"primaryKey"`
	ArchiveName string `gorm:"type:text;not null;index:idx_files_selector,priority:1"`
	LocalPath   string `gorm:"type:text;not null"`
	LocalMD5Sum string `gorm:"column:local_md5sum;type:text;not null"`
	RemotePath  string `gorm:"type:text;not null"`

	// Logical creation time of the file, used for ordering and retention.
	Timestamp time.Time `gorm:"not null;index:idx_files_selector,priority:4"`

	CopyStatus         CopyStatus `gorm:"type:text;not null;default:pending;index:idx_files_selector,priority:2"`
	FailedCopyAttempts int        `gorm:"not null;default:0"`
	RemoteMD5Sum       string     `gorm:"column:remote_md5sum;type:text"`
	CopiedAt           *time.Time

	Removed              bool `gorm:"not null;default:false;index:idx_files_selector,priority:3"`
	FailedRemoveAttempts int  `gorm:"not null;default:0"`
	RemovedAt            *time.Time

	LastError string `gorm:"type:text"`

	// ClaimHolder is the engine instance working on the record. The claim
	// lapses at ClaimExpiresAt so a crashed instance never pins a record.
	ClaimHolder    string `gorm:"type:text;not null;default:''"`
	ClaimExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (File) TableName() string {
	return "files"
}
