package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"library-backend/internal/db"
	"library-backend/internal/ledger"
	"library-backend/internal/lock"
	"library-backend/internal/model"
)

func newTestQueue(t *testing.T) (*gorm.DB, *ledger.Ledger, *Manager) {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))

	l := ledger.New(gormDB, lock.NewKeyedMutex())
	m := NewManager(gormDB, l, 24*time.Hour)
	return gormDB, l, m
}

func seedTitle(t *testing.T, gormDB *gorm.DB, available, loaned int) int64 {
	t.Helper()

	title := model.BookTitle{Title: "Clean Architecture", Author: "Robert C. Martin"}
	require.NoError(t, gormDB.Create(&title).Error)
	for i := 0; i < available; i++ {
		require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: title.ID, Status: model.CopyAvailable}).Error)
	}
	for i := 0; i < loaned; i++ {
		require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: title.ID, Status: model.CopyLoaned}).Error)
	}
	return title.ID
}

func seedUser(t *testing.T, gormDB *gorm.DB, email string) int64 {
	t.Helper()
	u := model.User{Name: email, Email: email, Role: model.RoleMember}
	require.NoError(t, gormDB.Create(&u).Error)
	return u.ID
}

func reload(t *testing.T, gormDB *gorm.DB, id int64) model.Reservation {
	t.Helper()
	var r model.Reservation
	require.NoError(t, gormDB.First(&r, id).Error)
	return r
}

func TestEnroll_RequiresExhaustedTitle(t *testing.T) {
	gormDB, _, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 1, 0)
	userID := seedUser(t, gormDB, "ana@example.com")

	_, err := m.Enroll(context.Background(), userID, titleID)
	assert.ErrorIs(t, err, ErrCopiesAvailable)
}

func TestEnroll_RejectsDuplicate(t *testing.T) {
	gormDB, _, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	userID := seedUser(t, gormDB, "ana@example.com")

	r, err := m.Enroll(context.Background(), userID, titleID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, r.Status)

	_, err = m.Enroll(context.Background(), userID, titleID)
	assert.ErrorIs(t, err, ErrAlreadyReserved)
}

func TestPosition_FollowsEnrollmentOrder(t *testing.T) {
	gormDB, _, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	u1 := seedUser(t, gormDB, "first@example.com")
	u2 := seedUser(t, gormDB, "second@example.com")

	r1, err := m.Enroll(context.Background(), u1, titleID)
	require.NoError(t, err)
	r2, err := m.Enroll(context.Background(), u2, titleID)
	require.NoError(t, err)

	p1, err := m.Position(context.Background(), r1)
	require.NoError(t, err)
	p2, err := m.Position(context.Background(), r2)
	require.NoError(t, err)
	assert.Equal(t, 1, p1)
	assert.Equal(t, 2, p2)

	pos, err := m.PositionForUser(context.Background(), u2, titleID)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2, *pos)
}

func TestPromote_IsFIFO(t *testing.T) {
	gormDB, l, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	u1 := seedUser(t, gormDB, "first@example.com")
	u2 := seedUser(t, gormDB, "second@example.com")

	r1, err := m.Enroll(context.Background(), u1, titleID)
	require.NoError(t, err)
	r2, err := m.Enroll(context.Background(), u2, titleID)
	require.NoError(t, err)

	// The loaned copy comes back; promotion runs with the release.
	var loanedCopy model.BookCopy
	require.NoError(t, gormDB.
		Where("book_title_id = ? AND status = ?", titleID, model.CopyLoaned).
		First(&loanedCopy).Error)
	copyID := loanedCopy.ID
	err = l.InTitleTx(context.Background(), titleID, func(tx *gorm.DB) error {
		if _, err := l.Release(tx, copyID); err != nil {
			return err
		}
		_, err := m.PromoteTx(tx, titleID, time.Now())
		return err
	})
	require.NoError(t, err)

	first := reload(t, gormDB, r1.ID)
	second := reload(t, gormDB, r2.ID)
	assert.Equal(t, model.ReservationOnHold, first.Status, "the oldest reservation wins the copy")
	require.NotNil(t, first.HoldCopyID)
	assert.Equal(t, copyID, *first.HoldCopyID)
	assert.NotNil(t, first.HoldExpiresAt)
	assert.Equal(t, model.ReservationActive, second.Status)
}

func TestPromote_NoQueueLeavesCopyAvailable(t *testing.T) {
	gormDB, l, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 1, 0)

	require.NoError(t, m.Promote(context.Background(), titleID))

	counts, err := l.Counts(context.Background(), titleID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Available)
}

func TestProcessHolds_PromotesUpToFreeCopies_Idempotent(t *testing.T) {
	gormDB, l, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	users := []string{"a@example.com", "b@example.com", "c@example.com"}
	for _, email := range users {
		_, err := m.Enroll(context.Background(), seedUser(t, gormDB, email), titleID)
		require.NoError(t, err)
	}

	// Two copies come back before any sweep runs.
	require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: titleID, Status: model.CopyAvailable}).Error)
	require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: titleID, Status: model.CopyAvailable}).Error)

	result, err := m.ProcessHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Promoted)
	assert.Equal(t, 0, result.Failed)

	counts, err := l.Counts(context.Background(), titleID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.OnHold)
	assert.Equal(t, int64(0), counts.Available)

	// Second run with no state change performs zero promotions.
	result, err = m.ProcessHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
}

func TestExpireHolds_ChainsToNextInLine(t *testing.T) {
	gormDB, l, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	u1 := seedUser(t, gormDB, "stale@example.com")
	u2 := seedUser(t, gormDB, "next@example.com")

	r1, err := m.Enroll(context.Background(), u1, titleID)
	require.NoError(t, err)
	r2, err := m.Enroll(context.Background(), u2, titleID)
	require.NoError(t, err)

	// Promote r1, then age its hold past the window.
	require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: titleID, Status: model.CopyAvailable}).Error)
	require.NoError(t, m.Promote(context.Background(), titleID))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, gormDB.Model(&model.Reservation{}).
		Where("id = ?", r1.ID).Update("hold_expires_at", past).Error)

	before := time.Now()
	result, err := m.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Promoted)

	first := reload(t, gormDB, r1.ID)
	assert.Equal(t, model.ReservationExpired, first.Status)
	assert.Nil(t, first.HoldCopyID)
	assert.Nil(t, first.HoldExpiresAt)

	second := reload(t, gormDB, r2.ID)
	assert.Equal(t, model.ReservationOnHold, second.Status)
	require.NotNil(t, second.HoldExpiresAt)
	assert.True(t, second.HoldExpiresAt.After(before.Add(23*time.Hour)),
		"the chained promotion gets a fresh hold window")

	counts, err := l.Counts(context.Background(), titleID)
	require.NoError(t, err)
	assert.Equal(t, counts.Total, counts.Available+counts.Loaned+counts.OnHold)
}

func TestExpireHolds_IgnoresLiveHolds(t *testing.T) {
	gormDB, _, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	u1 := seedUser(t, gormDB, "live@example.com")

	r1, err := m.Enroll(context.Background(), u1, titleID)
	require.NoError(t, err)
	require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: titleID, Status: model.CopyAvailable}).Error)
	require.NoError(t, m.Promote(context.Background(), titleID))

	result, err := m.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)
	assert.Equal(t, model.ReservationOnHold, reload(t, gormDB, r1.ID).Status)
}

func TestCancel_OwnershipAndTerminalGuards(t *testing.T) {
	gormDB, _, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	owner := seedUser(t, gormDB, "owner@example.com")
	stranger := seedUser(t, gormDB, "stranger@example.com")

	r, err := m.Enroll(context.Background(), owner, titleID)
	require.NoError(t, err)

	_, err = m.Cancel(context.Background(), r.ID, stranger, false)
	assert.ErrorIs(t, err, ErrNotOwner)

	cancelled, err := m.Cancel(context.Background(), r.ID, owner, false)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, cancelled.Status)

	_, err = m.Cancel(context.Background(), r.ID, owner, false)
	assert.ErrorIs(t, err, ErrTerminal)

	_, err = m.Cancel(context.Background(), 9999, owner, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_OnHoldReleasesAndPromotes(t *testing.T) {
	gormDB, l, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	u1 := seedUser(t, gormDB, "holder@example.com")
	u2 := seedUser(t, gormDB, "waiter@example.com")

	r1, err := m.Enroll(context.Background(), u1, titleID)
	require.NoError(t, err)
	r2, err := m.Enroll(context.Background(), u2, titleID)
	require.NoError(t, err)

	require.NoError(t, gormDB.Create(&model.BookCopy{BookTitleID: titleID, Status: model.CopyAvailable}).Error)
	require.NoError(t, m.Promote(context.Background(), titleID))
	require.Equal(t, model.ReservationOnHold, reload(t, gormDB, r1.ID).Status)

	_, err = m.Cancel(context.Background(), r1.ID, u1, false)
	require.NoError(t, err)

	// The copy moved straight to the next user, never back to the shelf.
	second := reload(t, gormDB, r2.ID)
	assert.Equal(t, model.ReservationOnHold, second.Status)

	counts, err := l.Counts(context.Background(), titleID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Available)
	assert.Equal(t, int64(1), counts.OnHold)
}

func TestCancel_AdminOverride(t *testing.T) {
	gormDB, _, m := newTestQueue(t)
	titleID := seedTitle(t, gormDB, 0, 1)
	owner := seedUser(t, gormDB, "owner@example.com")
	admin := seedUser(t, gormDB, "admin@example.com")

	r, err := m.Enroll(context.Background(), owner, titleID)
	require.NoError(t, err)

	cancelled, err := m.Cancel(context.Background(), r.ID, admin, true)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, cancelled.Status)
}
