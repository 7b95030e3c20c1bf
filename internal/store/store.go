// Package store persists user identities keyed by their provider id, plus the
// delivery addresses submitted through the order pages.
package store

import (
	"context"
	"errors"
)

// ErrUserNotFound indicates no identity record exists for the requested id.
var ErrUserNotFound = errors.New("store.user_not_found")

// User is the minimal identity kept per provider account. Records are created
// on first login, overwritten on every re-login, and never deleted here.
type User struct {
	ID             string `gorm:"column:id;primaryKey" json:"id"`
	Nickname       string `gorm:"column:nickname" json:"nickname"`
	ProfileImage   string `gorm:"column:profile_image" json:"profile_image,omitempty"`
	ThumbnailImage string `gorm:"column:thumbnail_image" json:"thumbnail_image,omitempty"`
	UpdatedAtUnix  int64  `gorm:"column:updated_at_unix;not null" json:"-"`
}

// TableName pins the users table name.
func (User) TableName() string {
	return "users"
}

// DeliveryAddress is a delivery destination submitted via the address form.
type DeliveryAddress struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	City          string `gorm:"column:city;not null" json:"city"`
	County        string `gorm:"column:county;not null" json:"county"`
	Detail        string `gorm:"column:detail" json:"detail_address,omitempty"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null" json:"-"`
}

// TableName pins the delivery_addresses table name.
func (DeliveryAddress) TableName() string {
	return "delivery_addresses"
}

// UserStore persists and retrieves application users.
type UserStore interface {
	// Upsert inserts a new record or overwrites the profile fields of an
	// existing one. Idempotent under repeated calls with identical input.
	Upsert(ctx context.Context, user User) error
	// Get returns the record for id or ErrUserNotFound.
	Get(ctx context.Context, id string) (User, error)
}

// AddressStore persists delivery addresses.
type AddressStore interface {
	Save(ctx context.Context, address DeliveryAddress) error
}
