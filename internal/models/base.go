// Package models defines the persisted records of tvrec.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID identifies history rows. IDs minted in the same millisecond are
// strictly increasing, so ordering by id matches insertion order.
type ULID ulid.ULID

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a fresh monotonic ULID.
func NewULID() ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy))
}

// ParseULID parses the canonical 26-character form.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return ULID(id), nil
}

func (u ULID) String() string { return ulid.ULID(u).String() }

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool { return u == ULID{} }

// Time returns the creation time encoded in u.
func (u ULID) Time() time.Time { return ulid.Time(ulid.ULID(u).Time()) }

// Value stores the id as text, or NULL when unset.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan accepts the text forms drivers return.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scanning ULID from %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ParseULID(s)
	if err != nil {
		return err
	}
	*u = id
	return nil
}

func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

func (u *ULID) UnmarshalText(text []byte) error {
	return u.Scan(text)
}

func (ULID) GormDataType() string { return "varchar(26)" }

// BaseModel is embedded by every table.
type BaseModel struct {
	ID        ULID           `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns an id to new rows.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
