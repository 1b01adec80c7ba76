package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"cardvault/internal/errors"
	"cardvault/internal/model"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "cards:cards@tcp(127.0.0.1:3306)/cards?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func listSQL(db *gorm.DB, filter model.CardFilter, today time.Time) string {
	return db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var cards []model.Card
		q := tx.Model(&model.Card{})
		q = effectiveStatus(filter.Status, today)(q)
		q = search(filter.Search)(q)
		return q.Find(&cards)
	})
}

func TestEffectiveStatusFilter(t *testing.T) {
	db := dryRunDB(t)
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	sql := listSQL(db, model.CardFilter{}, today)
	assert.NotContains(t, sql, "status")

	sql = listSQL(db, model.CardFilter{Status: model.CardStatusActive}, today)
	assert.Contains(t, sql, "status = 'ACTIVE' AND expiry_date >= '2026-10-19")

	sql = listSQL(db, model.CardFilter{Status: model.CardStatusBlocked}, today)
	assert.Contains(t, sql, "status = 'BLOCKED' AND expiry_date >= '2026-10-19")

	sql = listSQL(db, model.CardFilter{Status: model.CardStatusExpired}, today)
	assert.Contains(t, sql, "(status = 'EXPIRED' OR expiry_date < '2026-10-19")
}

func TestSearchFilter(t *testing.T) {
	db := dryRunDB(t)
	today := time.Now().UTC()

	sql := listSQL(db, model.CardFilter{Search: "  "}, today)
	assert.NotContains(t, sql, "LIKE")

	sql = listSQL(db, model.CardFilter{Search: "Ada"}, today)
	assert.Contains(t, sql, "LOWER(holder_name) LIKE '%ada%'")
	assert.Contains(t, sql, "masked_pan LIKE '%ada%'")
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}

func TestErrorTranslation(t *testing.T) {
	assert.Equal(t, errors.ErrCardNotFound, notFoundOr("find card", gorm.ErrRecordNotFound))
	assert.Equal(t, errors.ErrUserNotFound, userNotFoundOr(gorm.ErrRecordNotFound))

	cause := fmt.Errorf("connection reset")
	err := notFoundOr("find card", cause)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, errors.ErrCardNotFound))
}
