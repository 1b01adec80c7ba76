package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"cardvault/internal/errors"
	"cardvault/internal/model"
	"cardvault/internal/repository"
)

// memStore is the committed state shared by memCardRepo instances.
type memStore struct {
	mu      sync.Mutex
	cards   map[uuid.UUID]*model.Card
	seq     time.Duration
	commits int

	// failSaveAfter makes SaveCards fail after staging that many cards.
	failSaveAfter int
	saveErr       error
}

func newMemStore() *memStore {
	return &memStore{cards: make(map[uuid.UUID]*model.Card), failSaveAfter: -1}
}

func (s *memStore) put(card *model.Card) *model.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if card.CreatedAt.IsZero() {
		s.seq += time.Second
		card.CreatedAt = fixedNow.Add(s.seq)
	}
	cp := *card
	s.cards[card.ID] = &cp
	return card
}

func (s *memStore) get(id uuid.UUID) *model.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *memStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// memCardRepo is an in-memory CardRepository. Inside WithTransaction writes
// are staged and applied together on commit, or dropped on error.
type memCardRepo struct {
	store   *memStore
	staged  map[uuid.UUID]*model.Card
	removed map[uuid.UUID]*model.Card
	tx      bool
}

func newMemCardRepo(store *memStore) *memCardRepo {
	return &memCardRepo{store: store}
}

var _ repository.CardRepository = (*memCardRepo)(nil)

func (r *memCardRepo) read(id uuid.UUID) *model.Card {
	if r.tx {
		if _, ok := r.removed[id]; ok {
			return nil
		}
		if c, ok := r.staged[id]; ok {
			cp := *c
			return &cp
		}
	}
	c := r.store.get(id)
	if c == nil || c.DeletedAt.Valid {
		return nil
	}
	return c
}

func (r *memCardRepo) write(cards ...*model.Card) {
	if r.tx {
		for _, c := range cards {
			cp := *c
			r.staged[c.ID] = &cp
		}
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range cards {
		cp := *c
		r.store.cards[c.ID] = &cp
	}
	r.store.commits++
}

func (r *memCardRepo) Create(ctx context.Context, card *model.Card) error {
	r.store.mu.Lock()
	for _, c := range r.store.cards {
		if c.PANFingerprint == card.PANFingerprint {
			r.store.mu.Unlock()
			return errors.ErrDuplicatePAN
		}
	}
	r.store.mu.Unlock()
	r.store.put(card)
	return nil
}

func (r *memCardRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	if c := r.read(id); c != nil {
		return c, nil
	}
	return nil, errors.ErrCardNotFound
}

func (r *memCardRepo) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*model.Card, error) {
	c := r.read(id)
	if c == nil || c.UserID != userID {
		return nil, errors.ErrCardNotFound
	}
	return c, nil
}

func (r *memCardRepo) FindForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.Card, error) {
	return r.FindByIDForUser(ctx, id, userID)
}

func (r *memCardRepo) FindAnyForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	return r.FindByID(ctx, id)
}

func (r *memCardRepo) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	filter model.CardFilter,
	today time.Time,
	offset, limit int,
) ([]model.Card, int64, error) {
	return r.list(func(c *model.Card) bool { return c.UserID == userID }, filter, today, offset, limit)
}

func (r *memCardRepo) ListAll(ctx context.Context, filter model.CardFilter, today time.Time, offset, limit int) ([]model.Card, int64, error) {
	return r.list(func(*model.Card) bool { return true }, filter, today, offset, limit)
}

func (r *memCardRepo) list(
	scope func(*model.Card) bool,
	filter model.CardFilter,
	today time.Time,
	offset, limit int,
) ([]model.Card, int64, error) {
	r.store.mu.Lock()
	var matched []model.Card
	for _, c := range r.store.cards {
		if !scope(c) || c.DeletedAt.Valid {
			continue
		}
		pastDue := c.ExpiryDate.Before(today)
		switch filter.Status {
		case "":
		case model.CardStatusExpired:
			if c.Status != model.CardStatusExpired && !pastDue {
				continue
			}
		default:
			if c.Status != filter.Status || pastDue {
				continue
			}
		}
		if term := strings.ToLower(strings.TrimSpace(filter.Search)); term != "" &&
			!strings.Contains(strings.ToLower(c.HolderName), term) &&
			!strings.Contains(c.MaskedPAN, term) {
			continue
		}
		matched = append(matched, *c)
	}
	r.store.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *memCardRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, c := range r.store.cards {
		if c.UserID == userID && !c.DeletedAt.Valid {
			n++
		}
	}
	return n, nil
}

func (r *memCardRepo) SaveCards(ctx context.Context, cards ...*model.Card) error {
	r.store.mu.Lock()
	failAfter, saveErr := r.store.failSaveAfter, r.store.saveErr
	r.store.mu.Unlock()

	if failAfter >= 0 {
		if failAfter > len(cards) {
			failAfter = len(cards)
		}
		r.write(cards[:failAfter]...)
		return fmt.Errorf("%w: save cards: %w", errors.ErrPersistence, saveErr)
	}
	r.write(cards...)
	return nil
}

func (r *memCardRepo) SoftDelete(ctx context.Context, card *model.Card) error {
	if r.read(card.ID) == nil {
		return errors.ErrCardNotFound
	}
	deleted := *card
	deleted.DeletedAt.Time = fixedNow
	deleted.DeletedAt.Valid = true
	if r.tx {
		r.removed[card.ID] = &deleted
		return nil
	}
	r.write(&deleted)
	return nil
}

func (r *memCardRepo) MarkExpired(ctx context.Context, today time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, c := range r.store.cards {
		if c.ExpiryDate.Before(today) && c.Status != model.CardStatusExpired && !c.DeletedAt.Valid {
			c.Status = model.CardStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *memCardRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo repository.CardRepository) error) error {
	txRepo := &memCardRepo{
		store:   r.store,
		staged:  make(map[uuid.UUID]*model.Card),
		removed: make(map[uuid.UUID]*model.Card),
		tx:      true,
	}
	if err := fn(ctx, txRepo); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, c := range txRepo.staged {
		r.store.cards[id] = c
	}
	for id, c := range txRepo.removed {
		r.store.cards[id] = c
	}
	if len(txRepo.staged)+len(txRepo.removed) > 0 {
		r.store.commits++
	}
	return nil
}

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// MockCardRepository is a mock implementation of CardRepository.
type MockCardRepository struct {
	mock.Mock
}

func (m *MockCardRepository) Create(ctx context.Context, card *model.Card) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

func (m *MockCardRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Card), args.Error(1)
}

func (m *MockCardRepository) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*model.Card, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Card), args.Error(1)
}

func (m *MockCardRepository) FindForUpdate(ctx context.Context, id, userID uuid.UUID) (*model.Card, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Card), args.Error(1)
}

func (m *MockCardRepository) FindAnyForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Card), args.Error(1)
}

func (m *MockCardRepository) ListAll(ctx context.Context, filter model.CardFilter, today time.Time, offset, limit int) ([]model.Card, int64, error) {
	args := m.Called(ctx, filter, today, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]model.Card), args.Get(1).(int64), args.Error(2)
}

func (m *MockCardRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter model.CardFilter, today time.Time, offset, limit int) ([]model.Card, int64, error) {
	args := m.Called(ctx, userID, filter, today, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]model.Card), args.Get(1).(int64), args.Error(2)
}

func (m *MockCardRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCardRepository) SaveCards(ctx context.Context, cards ...*model.Card) error {
	args := m.Called(ctx, cards)
	return args.Error(0)
}

func (m *MockCardRepository) SoftDelete(ctx context.Context, card *model.Card) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

func (m *MockCardRepository) MarkExpired(ctx context.Context, today time.Time) (int64, error) {
	args := m.Called(ctx, today)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCardRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo repository.CardRepository) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}
