package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardvault/internal/auth"
	"cardvault/internal/config"
	"cardvault/internal/db"
	"cardvault/internal/errors"
	"cardvault/internal/lock"
	"cardvault/internal/logger"
	"cardvault/internal/model"
	"cardvault/internal/repository"
	"cardvault/internal/security"
	"cardvault/internal/service"
)

//go:embed fixtures.json
var defaultFixtures []byte

const seedTokenTTL = 24 * time.Hour

// SeedUser is one user and the cards issued to them.
// Role defaults to USER.
type SeedUser struct {
	Username string     `json:"username"`
	Role     string     `json:"role"`
	Cards    []SeedCard `json:"cards"`
}

// SeedCard describes a card to issue with an opening balance.
type SeedCard struct {
	HolderName string `json:"holder_name"`
	ExpiryDate string `json:"expiry_date"`
	CardType   string `json:"card_type"`
	Balance    string `json:"balance"`
}

func main() {
	source := flag.String("fixtures", "", "fixtures file path or http(s) URL (default: built-in fixtures)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("starting seed script")

	gormDB, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := gormDB.AutoMigrate(&model.User{}, &model.Card{}); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}

	users, err := loadFixtures(*source)
	if err != nil {
		zl.Fatal("failed to load fixtures", zap.Error(err))
	}
	zl.Info("fixtures loaded", zap.Int("users", len(users)))

	codec, err := security.NewCodec(cfg.CardMasterKey)
	if err != nil {
		zl.Fatal("card codec init", zap.Error(err))
	}
	lifecycle := service.NewCardLifecycle(time.Now)
	cardRepo := repository.NewCardRepository(gormDB)
	userRepo := repository.NewUserRepository(gormDB)
	cardService := service.NewCardService(
		cardRepo,
		userRepo,
		nil,
		codec,
		security.NewIssuer(),
		lock.NewLocalLocker(lock.DefaultStripes, lock.DefaultOptions()),
		lifecycle,
		zl.Named("cards"),
	)
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	ctx := context.Background()
	for _, su := range users {
		user, created, err := findOrCreateUser(ctx, userRepo, su.Username, su.Role)
		if err != nil {
			zl.Fatal("failed to seed user", zap.String("username", su.Username), zap.Error(err))
		}

		issued := 0
		if created {
			issued, err = seedCards(ctx, cardService, cardRepo, user, su.Cards)
			if err != nil {
				zl.Fatal("failed to seed cards", zap.String("username", su.Username), zap.Error(err))
			}
		}

		token, err := jwtService.GenerateAccessToken(user.ID, user.Username, user.Role, seedTokenTTL)
		if err != nil {
			zl.Fatal("failed to sign token", zap.Error(err))
		}
		zl.Info("user seeded",
			zap.String("username", user.Username),
			zap.Stringer("user_id", user.ID),
			zap.String("role", user.Role),
			zap.Bool("created", created),
			zap.Int("cards_issued", issued),
		)
		fmt.Printf("%s\t%s\n", user.Username, token)
	}

	zl.Info("seed completed successfully")
}

// loadFixtures reads fixtures from a URL, a file or the built-in set.
func loadFixtures(source string) ([]SeedUser, error) {
	var (
		body []byte
		err  error
	)
	switch {
	case source == "":
		body = defaultFixtures
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		body, err = fetchFixtures(source)
	default:
		body, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}

	var users []SeedUser
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return users, nil
}

func fetchFixtures(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fixtures: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fixtures URL returned status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func findOrCreateUser(ctx context.Context, repo repository.UserRepository, username, role string) (*model.User, bool, error) {
	existing, err := repo.FindByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, errors.ErrUserNotFound) {
		return nil, false, err
	}

	switch role {
	case "", model.RoleUser, model.RoleAdmin:
	default:
		return nil, false, fmt.Errorf("unknown role %q", role)
	}
	user := &model.User{Username: username, Role: role}
	if err := repo.Create(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// seedCards issues each fixture card and then sets its opening balance.
func seedCards(
	ctx context.Context,
	cardService service.CardService,
	cardRepo repository.CardRepository,
	user *model.User,
	cards []SeedCard,
) (int, error) {
	for i, sc := range cards {
		req, balance, err := parseSeedCard(sc)
		if err != nil {
			return i, fmt.Errorf("card %d: %w", i, err)
		}

		view, err := cardService.CreateCard(ctx, req, user.ID)
		if err != nil {
			return i, fmt.Errorf("card %d: %w", i, err)
		}

		card, err := cardRepo.FindByIDForUser(ctx, view.ID, user.ID)
		if err != nil {
			return i, err
		}
		card.Balance = balance
		if err := cardRepo.SaveCards(ctx, card); err != nil {
			return i, err
		}
	}
	return len(cards), nil
}

// parseSeedCard validates a fixture card. Opening balances must not be
// negative and are rounded to cents.
func parseSeedCard(sc SeedCard) (service.CreateCardRequest, decimal.Decimal, error) {
	expiry, err := time.Parse(model.ExpiryDateLayout, sc.ExpiryDate)
	if err != nil {
		return service.CreateCardRequest{}, decimal.Zero, fmt.Errorf("invalid expiry_date %q: %w", sc.ExpiryDate, err)
	}
	balance := decimal.Zero
	if sc.Balance != "" {
		if balance, err = decimal.NewFromString(sc.Balance); err != nil {
			return service.CreateCardRequest{}, decimal.Zero, fmt.Errorf("invalid balance %q: %w", sc.Balance, err)
		}
	}
	if balance.IsNegative() {
		return service.CreateCardRequest{}, decimal.Zero, fmt.Errorf("negative balance %s", sc.Balance)
	}
	return service.CreateCardRequest{
		HolderName: sc.HolderName,
		ExpiryDate: expiry,
		CardType:   model.CardType(sc.CardType),
	}, balance.Round(2), nil
}
