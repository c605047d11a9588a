package model

import (
	"time"

	"github.com/google/uuid"
)

type Room struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name      string     `gorm:"size:255;not null"`
	Link      string     `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt time.Time  `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
	Peers     []Peer     `gorm:"constraint:OnDelete:CASCADE"`
}

type Peer struct {
	ID        string    `gorm:"size:64;primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Role      string    `gorm:"size:32;not null"`
	Status    string    `gorm:"size:32;not null"`
	JoinedAt  time.Time `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
