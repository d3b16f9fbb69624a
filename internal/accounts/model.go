package accounts

import (
	"strings"
	"time"
)

// Account is the persisted credential record for an email/password login.
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing account records.
func (Account) TableName() string {
	return "accounts"
}

// Identity is the authenticated-actor view handed to the rest of the system.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
