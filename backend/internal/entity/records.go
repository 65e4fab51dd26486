package entity

import "time"

// PageRecord 远端 pages 表的一行；Blocks 为页面的 JSON
type PageRecord struct {
	PageID    string `gorm:"primaryKey;type:varchar(191)"`
	DocID     string `gorm:"index;type:varchar(128);not null"`
	Blocks    []byte `gorm:"type:longblob;not null"`
	CreatedAt time.Time
}

func (PageRecord) TableName() string { return "pages" }

// MetadataRecord 远端 document_metadata 表的一行；PageIDs 为 JSON 数组
type MetadataRecord struct {
	DocID        string `gorm:"primaryKey;type:varchar(128)"`
	PageIDs      []byte `gorm:"type:mediumblob;not null"`
	Revision     uint64 `gorm:"not null;default:0"`
	CaretAt      string `gorm:"type:varchar(64)"`
	LastModified time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (MetadataRecord) TableName() string { return "document_metadata" }
