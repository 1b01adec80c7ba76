package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CardStatus is the stored lifecycle status of a card.
// EXPIRED is a cached projection of ExpiryDate, see service.CardLifecycle.
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// Valid reports whether s is a known status.
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return true
	}
	return false
}

// CardType distinguishes debit and credit cards.
type CardType string

const (
	CardTypeDebit  CardType = "DEBIT"
	CardTypeCredit CardType = "CREDIT"
)

// Card represents a payment card owned by a user.
// PAN, CVV and PIN are only ever stored encrypted.
type Card struct {
	ID             uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	UserID         uuid.UUID       `json:"user_id" gorm:"type:char(36);not null;index"`
	PANCiphertext  string          `json:"-" gorm:"column:pan_ciphertext;type:text;not null"`
	PANFingerprint string          `json:"-" gorm:"column:pan_fingerprint;size:64;not null;uniqueIndex"`
	MaskedPAN      string          `json:"masked_pan" gorm:"column:masked_pan;size:19;not null"`
	HolderName     string          `json:"holder_name" gorm:"size:255;not null;index"`
	Balance        decimal.Decimal `json:"balance" gorm:"type:decimal(20,2);not null;default:0;check:chk_cards_balance,balance >= 0"`
	ExpiryDate     time.Time       `json:"expiry_date" gorm:"type:date;not null;index"`
	Status         CardStatus      `json:"status" gorm:"type:varchar(16);not null;default:'ACTIVE';index"`
	CVVCiphertext  string          `json:"-" gorm:"column:cvv_ciphertext;type:text;not null"`
	PINCiphertext  string          `json:"-" gorm:"column:pin_ciphertext;type:text;not null"`
	CardType       CardType        `json:"card_type" gorm:"type:varchar(16);not null;default:'DEBIT'"`
	IsDefault      bool            `json:"is_default" gorm:"default:false"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      gorm.DeletedAt  `json:"-" gorm:"index"`

	// Relations
	User User `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate sets UUID before creating the record.
func (c *Card) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
