package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardvault/internal/cache"
	"cardvault/internal/errors"
	"cardvault/internal/lock"
	"cardvault/internal/model"
	"cardvault/internal/repository"
	"cardvault/internal/security"
)

const (
	// maxIssueAttempts bounds retries when a generated PAN collides.
	maxIssueAttempts = 5

	DefaultPageSize = 10
	MaxPageSize     = 100
)

// CreateCardRequest holds the caller-supplied fields of a new card.
type CreateCardRequest struct {
	HolderName string
	ExpiryDate time.Time
	CardType   model.CardType
}

// CardService handles card issuance and lifecycle operations.
// Owner operations are scoped to the owner; cards of other users read as
// absent. Admin operations act on any card and must only be reachable by
// administrators.
type CardService interface {
	CreateCard(ctx context.Context, req CreateCardRequest, ownerID uuid.UUID) (*model.CardView, error)
	GetCard(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error)
	ListCards(ctx context.Context, ownerID uuid.UUID, page, size int, filter model.CardFilter) (*model.CardPage, error)
	BlockCard(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error)
	ActivateCard(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error)
	DeleteCard(ctx context.Context, cardID, ownerID uuid.UUID) error

	AdminGetCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error)
	ListAllCards(ctx context.Context, page, size int, filter model.CardFilter) (*model.CardPage, error)
	AdminBlockCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error)
	AdminActivateCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error)
	AdminDeleteCard(ctx context.Context, cardID uuid.UUID) error
}

type cardService struct {
	cardRepo  repository.CardRepository
	userRepo  repository.UserRepository
	cache     *cache.Client
	codec     *security.Codec
	issuer    *security.Issuer
	locker    lock.Locker
	lifecycle *CardLifecycle
	logger    *zap.Logger
}

// NewCardService creates a new card service.
func NewCardService(
	cardRepo repository.CardRepository,
	userRepo repository.UserRepository,
	cache *cache.Client,
	codec *security.Codec,
	issuer *security.Issuer,
	locker lock.Locker,
	lifecycle *CardLifecycle,
	logger *zap.Logger,
) CardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cardService{
		cardRepo:  cardRepo,
		userRepo:  userRepo,
		cache:     cache,
		codec:     codec,
		issuer:    issuer,
		locker:    locker,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// CreateCard issues a new card with zero balance. The owner's first card
// becomes the default one.
func (s *cardService) CreateCard(ctx context.Context, req CreateCardRequest, ownerID uuid.UUID) (*model.CardView, error) {
	req.HolderName = strings.TrimSpace(req.HolderName)
	if req.HolderName == "" {
		return nil, fmt.Errorf("%w: holder name is required", errors.ErrInvalidRequest)
	}
	if req.ExpiryDate.IsZero() {
		return nil, fmt.Errorf("%w: expiry date is required", errors.ErrInvalidRequest)
	}
	if req.CardType == "" {
		req.CardType = model.CardTypeDebit
	}
	if req.CardType != model.CardTypeDebit && req.CardType != model.CardTypeCredit {
		return nil, fmt.Errorf("%w: unknown card type %q", errors.ErrInvalidRequest, req.CardType)
	}

	if err := s.ensureOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	// Serializes creations per owner so exactly one first card becomes default.
	release, err := s.locker.Acquire(ctx, "owner:"+ownerID.String())
	if err != nil {
		s.logger.Warn("lock owner for card creation", zap.Stringer("user_id", ownerID), zap.Error(err))
		return nil, err
	}
	defer release()

	existing, err := s.cardRepo.CountByUser(ctx, ownerID)
	if err != nil {
		return nil, s.infraError("count cards", err, zap.Stringer("user_id", ownerID))
	}

	card := &model.Card{
		UserID:     ownerID,
		HolderName: req.HolderName,
		Balance:    decimal.Zero,
		ExpiryDate: dateOf(req.ExpiryDate),
		Status:     model.CardStatusActive,
		CardType:   req.CardType,
		IsDefault:  existing == 0,
	}
	s.lifecycle.ReconcileExpiry(card)

	for attempt := 1; ; attempt++ {
		if err := s.sealSecrets(card); err != nil {
			return nil, s.infraError("seal card secrets", err, zap.Stringer("user_id", ownerID))
		}

		err := s.cardRepo.Create(ctx, card)
		if err == nil {
			break
		}
		if !errors.Is(err, errors.ErrDuplicatePAN) {
			return nil, s.infraError("create card", err, zap.Stringer("user_id", ownerID))
		}
		s.logger.Warn("generated card number collided, reissuing", zap.Int("attempt", attempt))
		if attempt == maxIssueAttempts {
			return nil, s.infraError("create card",
				fmt.Errorf("%w: no unique card number after %d attempts", errors.ErrPersistence, attempt))
		}
	}

	s.logger.Info("card created",
		zap.Stringer("card_id", card.ID),
		zap.Stringer("user_id", ownerID),
		zap.String("masked_pan", card.MaskedPAN),
		zap.String("status", string(card.Status)),
	)
	view := card.View()
	return &view, nil
}

// sealSecrets issues fresh PAN, CVV and PIN and stores only their protected forms.
func (s *cardService) sealSecrets(card *model.Card) error {
	secrets, err := s.issuer.Issue()
	if err != nil {
		return fmt.Errorf("%w: issue card secrets: %w", errors.ErrCrypto, err)
	}
	if card.PANCiphertext, err = s.codec.Encrypt(secrets.PAN); err != nil {
		return err
	}
	if card.CVVCiphertext, err = s.codec.Encrypt(secrets.CVV); err != nil {
		return err
	}
	if card.PINCiphertext, err = s.codec.Encrypt(secrets.PIN); err != nil {
		return err
	}
	card.PANFingerprint = s.codec.Fingerprint(secrets.PAN)
	card.MaskedPAN = security.Mask(secrets.PAN)
	return nil
}

func (s *cardService) ensureOwner(ctx context.Context, ownerID uuid.UUID) error {
	if s.cache.KnownUser(ctx, ownerID) {
		return nil
	}
	if _, err := s.userRepo.FindByID(ctx, ownerID); err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return err
		}
		return s.infraError("find owner", err, zap.Stringer("user_id", ownerID))
	}
	s.cache.RememberUser(ctx, ownerID)
	return nil
}

// GetCard returns an owned card with its effective status.
func (s *cardService) GetCard(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error) {
	card, err := s.cardRepo.FindByIDForUser(ctx, cardID, ownerID)
	if err != nil {
		return nil, s.lookupError(err, cardID)
	}
	view := s.lifecycle.Project(card).View()
	return &view, nil
}

// AdminGetCard returns a card of any owner with its effective status.
func (s *cardService) AdminGetCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error) {
	card, err := s.cardRepo.FindByID(ctx, cardID)
	if err != nil {
		return nil, s.lookupError(err, cardID)
	}
	view := s.lifecycle.Project(card).View()
	return &view, nil
}

// ListCards returns a page of the owner's cards, newest first.
// Page numbers start at zero.
func (s *cardService) ListCards(ctx context.Context, ownerID uuid.UUID, page, size int, filter model.CardFilter) (*model.CardPage, error) {
	page, size = normalizePage(page, size)
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	cards, total, err := s.cardRepo.ListByUser(ctx, ownerID, filter, s.lifecycle.Today(), page*size, size)
	if err != nil {
		return nil, s.infraError("list cards", err, zap.Stringer("user_id", ownerID))
	}
	return s.page(cards, page, size, total), nil
}

// ListAllCards returns a page of every user's cards, newest first.
func (s *cardService) ListAllCards(ctx context.Context, page, size int, filter model.CardFilter) (*model.CardPage, error) {
	page, size = normalizePage(page, size)
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	cards, total, err := s.cardRepo.ListAll(ctx, filter, s.lifecycle.Today(), page*size, size)
	if err != nil {
		return nil, s.infraError("list all cards", err)
	}
	return s.page(cards, page, size, total), nil
}

func (s *cardService) page(cards []model.Card, page, size int, total int64) *model.CardPage {
	views := make([]model.CardView, 0, len(cards))
	for i := range cards {
		views = append(views, s.lifecycle.Project(&cards[i]).View())
	}
	result := model.NewCardPage(views, page, size, total)
	return &result
}

// normalizePage clamps paging input so that page*size cannot overflow.
func normalizePage(page, size int) (int, int) {
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page < 0 {
		page = 0
	}
	if maxPage := math.MaxInt / size; page > maxPage {
		page = maxPage
	}
	return page, size
}

func validateFilter(filter model.CardFilter) error {
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", errors.ErrInvalidRequest, filter.Status)
	}
	return nil
}

// cardLoader row-locks the card an operation acts on.
type cardLoader func(ctx context.Context, repo repository.CardRepository) (*model.Card, error)

func ownedBy(cardID, ownerID uuid.UUID) cardLoader {
	return func(ctx context.Context, repo repository.CardRepository) (*model.Card, error) {
		return repo.FindForUpdate(ctx, cardID, ownerID)
	}
}

func anyOwner(cardID uuid.UUID) cardLoader {
	return func(ctx context.Context, repo repository.CardRepository) (*model.Card, error) {
		return repo.FindAnyForUpdate(ctx, cardID)
	}
}

// BlockCard moves an owned ACTIVE card to BLOCKED.
func (s *cardService) BlockCard(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error) {
	return s.transition(ctx, "block", cardID, ownedBy(cardID, ownerID), s.lifecycle.Block)
}

// ActivateCard moves an owned BLOCKED card back to ACTIVE.
func (s *cardService) ActivateCard(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error) {
	return s.transition(ctx, "activate", cardID, ownedBy(cardID, ownerID), s.lifecycle.Activate)
}

// AdminBlockCard blocks a card of any owner.
func (s *cardService) AdminBlockCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error) {
	return s.transition(ctx, "block", cardID, anyOwner(cardID), s.lifecycle.Block)
}

// AdminActivateCard reactivates a blocked card of any owner.
func (s *cardService) AdminActivateCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error) {
	return s.transition(ctx, "activate", cardID, anyOwner(cardID), s.lifecycle.Activate)
}

// transition applies a status change under the card lock. A card found past
// its expiry date is stored as EXPIRED even when apply rejects it; otherwise
// nothing is written unless apply succeeds.
func (s *cardService) transition(
	ctx context.Context,
	op string,
	cardID uuid.UUID,
	load cardLoader,
	apply func(*model.Card) error,
) (*model.CardView, error) {
	release, err := s.locker.Acquire(ctx, cardID.String())
	if err != nil {
		s.logger.Warn("lock card", zap.String("op", op), zap.Stringer("card_id", cardID), zap.Error(err))
		return nil, err
	}
	defer release()

	var (
		updated   *model.Card
		rejection error
	)
	err = s.cardRepo.WithTransaction(ctx, func(ctx context.Context, repo repository.CardRepository) error {
		card, err := load(ctx, repo)
		if err != nil {
			return err
		}
		expired := s.lifecycle.ReconcileExpiry(card)
		if err := apply(card); err != nil {
			if !expired {
				return err
			}
			rejection = err
			return repo.SaveCards(ctx, card)
		}
		if err := repo.SaveCards(ctx, card); err != nil {
			return err
		}
		updated = card
		return nil
	})
	if err == nil {
		err = rejection
	}
	if err != nil {
		if isClientError(err) {
			s.logger.Debug("card "+op+" rejected", zap.Stringer("card_id", cardID), zap.Error(err))
			return nil, err
		}
		return nil, s.infraError(op+" card", err, zap.Stringer("card_id", cardID))
	}

	s.logger.Info("card "+op,
		zap.Stringer("card_id", cardID),
		zap.String("status", string(updated.Status)),
	)
	view := updated.View()
	return &view, nil
}

// DeleteCard soft-deletes an owned card under its lock, so no transfer can
// observe it half-deleted.
func (s *cardService) DeleteCard(ctx context.Context, cardID, ownerID uuid.UUID) error {
	return s.remove(ctx, cardID, ownedBy(cardID, ownerID))
}

// AdminDeleteCard soft-deletes a card of any owner.
func (s *cardService) AdminDeleteCard(ctx context.Context, cardID uuid.UUID) error {
	return s.remove(ctx, cardID, anyOwner(cardID))
}

func (s *cardService) remove(ctx context.Context, cardID uuid.UUID, load cardLoader) error {
	release, err := s.locker.Acquire(ctx, cardID.String())
	if err != nil {
		s.logger.Warn("lock card", zap.String("op", "delete"), zap.Stringer("card_id", cardID), zap.Error(err))
		return err
	}
	defer release()

	err = s.cardRepo.WithTransaction(ctx, func(ctx context.Context, repo repository.CardRepository) error {
		card, err := load(ctx, repo)
		if err != nil {
			return err
		}
		return repo.SoftDelete(ctx, card)
	})
	if err != nil {
		return s.lookupError(err, cardID)
	}
	s.logger.Info("card deleted", zap.Stringer("card_id", cardID))
	return nil
}

func (s *cardService) lookupError(err error, cardID uuid.UUID) error {
	if errors.Is(err, errors.ErrCardNotFound) {
		return err
	}
	return s.infraError("load card", err, zap.Stringer("card_id", cardID))
}

// infraError logs an infrastructure failure and returns it unchanged.
func (s *cardService) infraError(op string, err error, fields ...zap.Field) error {
	s.logger.Error(op, append(fields, zap.Error(err))...)
	return err
}

// isClientError reports whether err was caused by the request rather than
// by infrastructure.
func isClientError(err error) bool {
	for _, target := range []error{
		errors.ErrCardNotFound,
		errors.ErrUserNotFound,
		errors.ErrInvalidState,
		errors.ErrExpiredCard,
		errors.ErrCardNotUsable,
		errors.ErrSameCard,
		errors.ErrInvalidAmount,
		errors.ErrInsufficientBalance,
		errors.ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
