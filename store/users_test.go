package store

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
	"github.com/pashagolub/pgxmock/v4"
)

func TestUpsertUser_MatchesExternalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	now := time.Now().UTC()

	user := &domain.User{
		ExternalUserID: "ext_1",
		Email:          "ada@example.com",
		Name:           "Ada",
		Role:           domain.UserRoleMember,
		IsActive:       true,
	}

	mock.ExpectQuery("UPDATE parley_users").
		WithArgs("ext_1", "ada@example.com", "", "", "Ada", "", "", "", "MEMBER", true, false, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "settings", "created_at"}).
			AddRow("usr_1", map[string]any(nil), now))

	ctx := setupMockContext(mock)
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.ID != "usr_1" {
		t.Errorf("expected stable local id usr_1, got %s", user.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpsertUser_ClaimsRowByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	now := time.Now().UTC()

	user := &domain.User{
		ExternalUserID: "ext_reissued",
		Email:          "ada@example.com",
		Name:           "Ada",
		Role:           domain.UserRoleMember,
		IsActive:       true,
	}

	// External id unknown, email claims the existing row.
	mock.ExpectQuery("UPDATE parley_users").
		WithArgs("ext_reissued", "ada@example.com", "", "", "Ada", "", "", "", "MEMBER", true, false, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("UPDATE parley_users").
		WithArgs("ext_reissued", "ada@example.com", "", "", "Ada", "", "", "", "MEMBER", true, false, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "settings", "created_at"}).
			AddRow("usr_1", map[string]any(nil), now))

	ctx := setupMockContext(mock)
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.ID != "usr_1" {
		t.Errorf("expected the claimed row to keep id usr_1, got %s", user.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpsertUser_InsertsWhenUnknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	user := &domain.User{
		ExternalUserID: "ext_new",
		Email:          "new@example.com",
		Name:           "New",
		Role:           domain.UserRoleMember,
		IsActive:       true,
	}

	mock.ExpectQuery("UPDATE parley_users").
		WithArgs("ext_new", "new@example.com", "", "", "New", "", "", "", "MEMBER", true, false, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("UPDATE parley_users").
		WithArgs("ext_new", "new@example.com", "", "", "New", "", "", "", "MEMBER", true, false, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO parley_users").
		WithArgs(pgxmock.AnyArg(), "ext_new", "new@example.com", "", "", "New", "", "", "", "MEMBER", true, false,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.ID == "" {
		t.Error("expected a generated local id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
