package models

import "time"

// DefaultStorageTotal is the storage ceiling granted to new accounts (15 GiB).
const DefaultStorageTotal int64 = 15 * 1024 * 1024 * 1024

type User struct {
	BaseModel
	Email        string `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"type:text;not null"`
	FirstName    string `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName     string `json:"lastName" gorm:"type:varchar(100);not null"`
	Verified     bool   `json:"verified" gorm:"not null;default:false"`

	VerificationToken          *string    `json:"-" gorm:"type:varchar(64);index"`
	VerificationTokenExpiresAt *time.Time `json:"-"`
	PasswordResetToken         *string    `json:"-" gorm:"type:varchar(64);index"`
	PasswordResetExpiresAt     *time.Time `json:"-"`

	StorageUsed  int64 `json:"storageUsed" gorm:"not null;default:0"`
	StorageTotal int64 `json:"storageTotal" gorm:"not null;default:16106127360"`

	Files []File `json:"-" gorm:"foreignKey:OwnerID"`
}
