package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardvault/internal/errors"
	"cardvault/internal/lock"
	"cardvault/internal/model"
	"cardvault/internal/repository"
)

// amountScale is the number of fractional digits a transfer amount may carry.
const amountScale = 2

// TransferService moves funds between two cards of the same owner.
type TransferService interface {
	Transfer(ctx context.Context, fromCardID, toCardID uuid.UUID, amount decimal.Decimal, ownerID uuid.UUID) (*model.TransferResult, error)
}

type transferService struct {
	cardRepo  repository.CardRepository
	locker    lock.Locker
	lifecycle *CardLifecycle
	logger    *zap.Logger
}

// NewTransferService creates a new transfer service.
func NewTransferService(
	cardRepo repository.CardRepository,
	locker lock.Locker,
	lifecycle *CardLifecycle,
	logger *zap.Logger,
) TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &transferService{
		cardRepo:  cardRepo,
		locker:    locker,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// Transfer debits fromCardID and credits toCardID by amount.
//
// Preconditions are checked in order and the first failure wins: distinct
// cards, both owned by ownerID, positive amount, both cards usable, enough
// funds. Both cards stay locked from the first read until the commit, and
// both balances are written in one transaction or not at all.
func (s *transferService) Transfer(
	ctx context.Context,
	fromCardID, toCardID uuid.UUID,
	amount decimal.Decimal,
	ownerID uuid.UUID,
) (*model.TransferResult, error) {
	log := s.logger.With(
		zap.Stringer("from_card_id", fromCardID),
		zap.Stringer("to_card_id", toCardID),
		zap.Stringer("user_id", ownerID),
	)

	if fromCardID == toCardID {
		log.Debug("transfer rejected", zap.Error(errors.ErrSameCard))
		return nil, errors.ErrSameCard
	}

	release, err := s.locker.Acquire(ctx, fromCardID.String(), toCardID.String())
	if err != nil {
		log.Warn("lock transfer cards", zap.Error(err))
		return nil, err
	}
	defer release()

	var (
		from, to  *model.Card
		rejection error
	)
	err = s.cardRepo.WithTransaction(ctx, func(ctx context.Context, repo repository.CardRepository) error {
		var err error
		if from, to, err = loadPair(ctx, repo, fromCardID, toCardID, ownerID); err != nil {
			return err
		}

		reconciled := s.lifecycle.ReconcileAll(from, to)
		if err := s.checkTransfer(from, to, amount); err != nil {
			if len(reconciled) == 0 {
				return err
			}
			// A rejected transfer still commits the EXPIRED status it discovered.
			rejection = err
			return repo.SaveCards(ctx, reconciled...)
		}

		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		return repo.SaveCards(ctx, from, to)
	})
	if err == nil {
		err = rejection
	}
	if err != nil {
		if isClientError(err) {
			log.Debug("transfer rejected", zap.String("amount", amount.String()), zap.Error(err))
		} else {
			log.Error("transfer failed", zap.Error(err))
		}
		return nil, err
	}

	result := &model.TransferResult{
		TransferID:    uuid.New(),
		FromCardID:    from.ID,
		ToCardID:      to.ID,
		FromMaskedPAN: from.MaskedPAN,
		ToMaskedPAN:   to.MaskedPAN,
		Amount:        amount.Round(amountScale),
		Timestamp:     s.lifecycle.now().UTC(),
		Status:        model.TransferStatusSuccess,
	}
	log.Info("transfer committed",
		zap.Stringer("transfer_id", result.TransferID),
		zap.String("amount", result.Amount.StringFixed(amountScale)),
	)
	return result, nil
}

// checkTransfer validates the amount, then usability of each side, then funds.
func (s *transferService) checkTransfer(from, to *model.Card, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if !s.lifecycle.IsUsable(from) {
		return &errors.CardNotUsableError{Side: errors.SideSource, CardID: from.ID, Status: string(from.Status)}
	}
	if !s.lifecycle.IsUsable(to) {
		return &errors.CardNotUsableError{Side: errors.SideDestination, CardID: to.ID, Status: string(to.Status)}
	}
	if from.Balance.LessThan(amount) {
		return errors.ErrInsufficientBalance
	}
	return nil
}

// loadPair row-locks both cards in ascending id order.
func loadPair(ctx context.Context, repo repository.CardRepository, fromID, toID, ownerID uuid.UUID) (from, to *model.Card, err error) {
	first, second := fromID, toID
	swapped := first.String() > second.String()
	if swapped {
		first, second = second, first
	}

	a, err := repo.FindForUpdate(ctx, first, ownerID)
	if err != nil {
		return nil, nil, err
	}
	b, err := repo.FindForUpdate(ctx, second, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return b, a, nil
	}
	return a, b, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", errors.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", errors.ErrInvalidAmount, amountScale)
	}
	return nil
}
