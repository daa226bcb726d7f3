package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
	"github.com/pashagolub/pgxmock/v4"
)

func testPreKeys(userID string, ids ...int) []*domain.OneTimePreKey {
	keys := make([]*domain.OneTimePreKey, len(ids))
	for i, id := range ids {
		keys[i] = &domain.OneTimePreKey{
			ID:        NewOneTimePreKeyID(),
			UserID:    userID,
			PreKeyID:  id,
			PublicKey: fmt.Sprintf("pk-%d", id),
		}
	}
	return keys
}

func TestConsumePreKey_TakesLowest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	now := time.Now().UTC()

	mock.ExpectQuery("DELETE FROM parley_one_time_prekeys").
		WithArgs("usr_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "prekey_id", "public_key", "created_at"}).
			AddRow("opk_1", "usr_1", 1, "pk-bytes", now))

	ctx := setupMockContext(mock)
	key, err := s.ConsumePreKey(ctx, "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == nil {
		t.Fatal("expected a consumed prekey")
	}
	if key.PreKeyID != 1 {
		t.Errorf("expected prekey_id 1, got %d", key.PreKeyID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestConsumePreKey_NoneLeft(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	mock.ExpectQuery("DELETE FROM parley_one_time_prekeys").
		WithArgs("usr_1").
		WillReturnError(pgx.ErrNoRows)

	ctx := setupMockContext(mock)
	key, err := s.ConsumePreKey(ctx, "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Errorf("expected nil when exhausted, got %+v", key)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertPreKeys_SkipsDuplicates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	keys := testPreKeys("usr_1", 1, 2, 3)

	// One of the three ids was uploaded before.
	mock.ExpectExec("INSERT INTO parley_one_time_prekeys").
		WithArgs("usr_1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	ctx := setupMockContext(mock)
	inserted, err := s.InsertPreKeys(ctx, "usr_1", keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", inserted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
