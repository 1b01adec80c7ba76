package service

import (
	"time"

	"cardvault/internal/errors"
	"cardvault/internal/model"
)

// Clock returns the current time.
type Clock func() time.Time

// CardLifecycle owns the ACTIVE/BLOCKED/EXPIRED state machine.
//
// A card's stored status is a cached projection of its expiry date: once
// the date has passed the card is EXPIRED whatever is stored. EXPIRED has
// no outgoing transitions.
type CardLifecycle struct {
	now Clock
}

// NewCardLifecycle creates a lifecycle evaluated against clock. A nil clock
// uses time.Now.
func NewCardLifecycle(clock Clock) *CardLifecycle {
	if clock == nil {
		clock = time.Now
	}
	return &CardLifecycle{now: clock}
}

// Today returns the current date at midnight UTC.
func (l *CardLifecycle) Today() time.Time {
	return dateOf(l.now())
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PastExpiry reports whether the card's expiry date is before today.
// A card stays valid through its expiry date.
func (l *CardLifecycle) PastExpiry(card *model.Card) bool {
	return dateOf(card.ExpiryDate).Before(l.Today())
}

// IsExpired reports whether the card is expired by date or by stored status.
func (l *CardLifecycle) IsExpired(card *model.Card) bool {
	return card.Status == model.CardStatusExpired || l.PastExpiry(card)
}

// IsUsable reports whether the card may take part in a transfer.
func (l *CardLifecycle) IsUsable(card *model.Card) bool {
	return card.Status == model.CardStatusActive && !l.PastExpiry(card)
}

// ReconcileExpiry stores EXPIRED on a card past its expiry date and reports
// whether the status changed. It is idempotent.
func (l *CardLifecycle) ReconcileExpiry(card *model.Card) bool {
	if card.Status == model.CardStatusExpired || !l.PastExpiry(card) {
		return false
	}
	card.Status = model.CardStatusExpired
	return true
}

// ReconcileAll reconciles every card and returns the ones whose status changed.
func (l *CardLifecycle) ReconcileAll(cards ...*model.Card) []*model.Card {
	var changed []*model.Card
	for _, card := range cards {
		if l.ReconcileExpiry(card) {
			changed = append(changed, card)
		}
	}
	return changed
}

// Project returns a reconciled copy of card for read paths that do not write.
func (l *CardLifecycle) Project(card *model.Card) *model.Card {
	projected := *card
	l.ReconcileExpiry(&projected)
	return &projected
}

// Block moves an ACTIVE card to BLOCKED. The card is left untouched on error.
func (l *CardLifecycle) Block(card *model.Card) error {
	if l.IsExpired(card) {
		return &errors.InvalidStateError{Op: "block", Status: string(model.CardStatusExpired)}
	}
	if card.Status != model.CardStatusActive {
		return &errors.InvalidStateError{Op: "block", Status: string(card.Status)}
	}
	card.Status = model.CardStatusBlocked
	return nil
}

// Activate moves a BLOCKED card back to ACTIVE. Expired cards can never be
// reactivated. The card is left untouched on error.
func (l *CardLifecycle) Activate(card *model.Card) error {
	if l.IsExpired(card) {
		return errors.ErrExpiredCard
	}
	if card.Status != model.CardStatusBlocked {
		return &errors.InvalidStateError{Op: "activate", Status: string(card.Status)}
	}
	card.Status = model.CardStatusActive
	return nil
}
