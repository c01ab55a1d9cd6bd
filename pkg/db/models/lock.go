package models

import "time"

// ArchiveLock is the per-archive row every engine transaction writes first,
// serializing select-then-act sequences across instances.
type ArchiveLock struct {
	ArchiveName string `gorm:"primaryKey;type:text"`
	Holder      string `gorm:"type:text;not null"`
	AcquiredAt  time.Time
}

func (ArchiveLock) TableName() string {
	return "archive_locks"
}
