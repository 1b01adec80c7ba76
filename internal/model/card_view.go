package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CardView is the caller-facing representation of a card.
// It carries the masked PAN only.
type CardView struct {
	ID         uuid.UUID       `json:"id"`
	MaskedPAN  string          `json:"masked_pan"`
	HolderName string          `json:"holder_name"`
	Balance    decimal.Decimal `json:"balance"`
	ExpiryDate string          `json:"expiry_date"`
	Status     CardStatus      `json:"status"`
	CardType   CardType        `json:"card_type"`
	IsDefault  bool            `json:"is_default"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ExpiryDateLayout is the wire format of expiry dates.
const ExpiryDateLayout = "2006-01-02"

// View converts a card to its caller-facing form.
func (c *Card) View() CardView {
	return CardView{
		ID:         c.ID,
		MaskedPAN:  c.MaskedPAN,
		HolderName: c.HolderName,
		Balance:    c.Balance.Round(2),
		ExpiryDate: c.ExpiryDate.UTC().Format(ExpiryDateLayout),
		Status:     c.Status,
		CardType:   c.CardType,
		IsDefault:  c.IsDefault,
		CreatedAt:  c.CreatedAt,
	}
}

// CardFilter narrows a card listing.
type CardFilter struct {
	// Status matches the effective status, so a stored ACTIVE card past its
	// expiry date is listed as EXPIRED.
	Status CardStatus
	// Search matches holder name or the last digits of the masked PAN.
	Search string
}

// CardPage is one page of a card listing.
type CardPage struct {
	Content       []CardView `json:"content"`
	Page          int        `json:"page"`
	Size          int        `json:"size"`
	TotalElements int64      `json:"total_elements"`
	TotalPages    int        `json:"total_pages"`
	Last          bool       `json:"last"`
}

// NewCardPage builds a page envelope.
func NewCardPage(content []CardView, page, size int, total int64) CardPage {
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	if content == nil {
		content = []CardView{}
	}
	return CardPage{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		Last:          page+1 >= totalPages,
	}
}

// TransferStatusSuccess is the only status a returned transfer can carry.
const TransferStatusSuccess = "SUCCESS"

// TransferResult is echoed to the caller after a committed transfer.
type TransferResult struct {
	TransferID    uuid.UUID       `json:"transfer_id"`
	FromCardID    uuid.UUID       `json:"from_card_id"`
	ToCardID      uuid.UUID       `json:"to_card_id"`
	FromMaskedPAN string          `json:"from_card"`
	ToMaskedPAN   string          `json:"to_card"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status"`
}
