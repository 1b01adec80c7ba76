package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cardvault/internal/errors"
	"cardvault/internal/model"
)

// CardRepository defines card persistence operations.
// Lookups of absent cards return errors.ErrCardNotFound; every other
// storage failure wraps errors.ErrPersistence.
type CardRepository interface {
	Create(ctx context.Context, card *model.Card) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error)
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*model.Card, error)
	// FindForUpdate loads an owned card and holds its row lock until the
	// surrounding transaction ends.
	FindForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.Card, error)
	// FindAnyForUpdate is FindForUpdate without the owner scope, for administrators.
	FindAnyForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter model.CardFilter, today time.Time, offset, limit int) ([]model.Card, int64, error)
	ListAll(ctx context.Context, filter model.CardFilter, today time.Time, offset, limit int) ([]model.Card, int64, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// SaveCards persists the mutable fields of every card, all or nothing.
	SaveCards(ctx context.Context, cards ...*model.Card) error
	SoftDelete(ctx context.Context, card *model.Card) error
	// MarkExpired stores EXPIRED on every card whose expiry date is before today.
	MarkExpired(ctx context.Context, today time.Time) (int64, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repo CardRepository) error) error
}

type cardRepository struct {
	db *gorm.DB
}

// NewCardRepository creates a new card repository.
func NewCardRepository(db *gorm.DB) CardRepository {
	return &cardRepository{db: db}
}

// Create inserts a new card. A fingerprint collision yields errors.ErrDuplicatePAN.
func (r *cardRepository) Create(ctx context.Context, card *model.Card) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(card).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.ErrDuplicatePAN
	}
	return persistence("create card", err)
}

// FindByID finds a card by ID regardless of owner.
func (r *cardRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	var card model.Card
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&card).Error; err != nil {
		return nil, notFoundOr("find card", err)
	}
	return &card, nil
}

// FindByIDForUser finds a card owned by userID.
func (r *cardRepository) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*model.Card, error) {
	var card model.Card
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&card).Error; err != nil {
		return nil, notFoundOr("find card", err)
	}
	return &card, nil
}

// FindForUpdate finds an owned card with a row-level lock.
func (r *cardRepository) FindForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.Card, error) {
	return r.lockCard(r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

// FindAnyForUpdate finds a card of any owner with a row-level lock.
func (r *cardRepository) FindAnyForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	return r.lockCard(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *cardRepository) lockCard(query *gorm.DB) (*model.Card, error) {
	var card model.Card
	if err := query.Clauses(clause.Locking{Strength: "UPDATE"}).First(&card).Error; err != nil {
		return nil, notFoundOr("lock card", err)
	}
	return &card, nil
}

// ListByUser returns one page of the owner's cards, newest first, and the
// total number of matching cards.
func (r *cardRepository) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	filter model.CardFilter,
	today time.Time,
	offset, limit int,
) ([]model.Card, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Card{}).Where("user_id = ?", userID)
	return list(query, filter, today, offset, limit)
}

// ListAll returns one page of every user's cards, newest first.
func (r *cardRepository) ListAll(
	ctx context.Context,
	filter model.CardFilter,
	today time.Time,
	offset, limit int,
) ([]model.Card, int64, error) {
	return list(r.db.WithContext(ctx).Model(&model.Card{}), filter, today, offset, limit)
}

func list(query *gorm.DB, filter model.CardFilter, today time.Time, offset, limit int) ([]model.Card, int64, error) {
	query = effectiveStatus(filter.Status, today)(query)
	query = search(filter.Search)(query)
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, persistence("count cards", err)
	}

	var cards []model.Card
	if err := query.
		Order("created_at DESC").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&cards).Error; err != nil {
		return nil, 0, persistence("list cards", err)
	}
	return cards, total, nil
}

// CountByUser returns how many live cards the owner has.
func (r *cardRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Card{}).
		Where("user_id = ?", userID).
		Count(&n).Error; err != nil {
		return 0, persistence("count cards", err)
	}
	return n, nil
}

// SaveCards writes balance, status and default flag of each card in one transaction.
func (r *cardRepository) SaveCards(ctx context.Context, cards ...*model.Card) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, card := range cards {
			res := tx.Model(card).
				Omit(clause.Associations).
				Select("balance", "status", "is_default", "updated_at").
				Updates(card)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("card %s: %w", card.ID, gorm.ErrRecordNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return persistence("save cards", err)
	}
	return nil
}

// SoftDelete marks a card deleted; it disappears from every lookup.
func (r *cardRepository) SoftDelete(ctx context.Context, card *model.Card) error {
	res := r.db.WithContext(ctx).Delete(card)
	if res.Error != nil {
		return persistence("delete card", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrCardNotFound
	}
	return nil
}

// MarkExpired reconciles stored statuses in bulk. It is idempotent.
func (r *cardRepository) MarkExpired(ctx context.Context, today time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Card{}).
		Where("expiry_date < ? AND status <> ?", today, model.CardStatusExpired).
		Updates(map[string]interface{}{
			"status":     model.CardStatusExpired,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, persistence("mark expired", res.Error)
	}
	return res.RowsAffected, nil
}

// WithTransaction executes a function within a database transaction.
func (r *cardRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo CardRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &cardRepository{db: tx})
	})
}

// effectiveStatus filters on the status a card has today, which for any
// card past its expiry date is EXPIRED whatever is stored.
func effectiveStatus(status model.CardStatus, today time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch status {
		case "":
			return db
		case model.CardStatusExpired:
			return db.Where("(status = ? OR expiry_date < ?)", model.CardStatusExpired, today)
		default:
			return db.Where("status = ? AND expiry_date >= ?", status, today)
		}
	}
}

func search(term string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		term = strings.TrimSpace(term)
		if term == "" {
			return db
		}
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		return db.Where("(LOWER(holder_name) LIKE ? OR masked_pan LIKE ?)", like, like)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func notFoundOr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrCardNotFound
	}
	return persistence(op, err)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errors.ErrPersistence, op, err)
}
