package models

import (
	"time"
)

// Recipient holds the PII protected by a package's token.
// It never leaves the service except inside an authorized scan result.
type Recipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// Package is a parcel moving through the delivery lifecycle.
// Status and History change only through the status machine.
type Package struct {
	ID             string               `gorm:"primaryKey;type:uuid" json:"id"`
	TrackingNumber string               `gorm:"uniqueIndex;not null" json:"trackingNumber"`
	Status         PackageStatus        `gorm:"index;not null" json:"status"`
	Version        int64                `gorm:"not null" json:"version"` // Bumped on every write, used for compare-and-set
	Recipient      Recipient            `gorm:"embedded;embeddedPrefix:recipient_" json:"-"`
	History        []StatusHistoryEntry `gorm:"foreignKey:PackageID;references:ID" json:"history"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

func (Package) TableName() string { return "packages" }

// Clone returns a deep copy so callers can derive new state without
// touching the original
func (p Package) Clone() Package {
	out := p
	if p.History != nil {
		out.History = make([]StatusHistoryEntry, len(p.History))
		copy(out.History, p.History)
	}
	return out
}

// DeliveryPayload is the plaintext sealed inside a token envelope.
// Integer keys keep the encoded form small enough for dense QR codes.
type DeliveryPayload struct {
	TokenID        string    `cbor:"1,keyasint" json:"tokenId"`
	PackageID      string    `cbor:"2,keyasint" json:"packageId"`
	TrackingNumber string    `cbor:"3,keyasint" json:"trackingNumber"`
	Recipient      Recipient `cbor:"4,keyasint" json:"recipient"`
	IssuedAt       int64     `cbor:"5,keyasint" json:"issuedAt"` // Unix seconds
}
