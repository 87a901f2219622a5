package models

import "github.com/google/uuid"

// File is a node in a per-account parent-pointer tree. Folders carry no
// content: Size is always 0 and StorageKey empty. A non-nil ParentID must
// reference a folder owned by the same account.
type File struct {
	BaseModel
	Name       string     `json:"name" gorm:"type:varchar(255);not null;index:idx_files_owner_name,priority:2"`
	MimeType   string     `json:"mimeType" gorm:"type:varchar(255)"`
	Size       int64      `json:"size" gorm:"not null;default:0"`
	IsFolder   bool       `json:"isFolder" gorm:"not null;default:false;index"`
	ParentID   *uuid.UUID `json:"parentId,omitempty" gorm:"type:uuid;index:idx_files_owner_parent,priority:2"`
	OwnerID    uuid.UUID  `json:"ownerId" gorm:"type:uuid;not null;index:idx_files_owner_parent,priority:1;index:idx_files_owner_name,priority:1"`
	StorageKey string     `json:"-" gorm:"type:text"`

	Parent     *File  `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
	Children   []File `json:"children,omitempty" gorm:"foreignKey:ParentID"`
	Owner      User   `json:"-" gorm:"foreignKey:OwnerID;references:ID"`
	ParentName string `json:"parentName,omitempty" gorm:"-"`
}

// PathEntry is one breadcrumb step, ordered root first.
type PathEntry struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
