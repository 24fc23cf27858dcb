package leadstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/leadguard/pkg/models"
)

var mockNow = time.Date(2025, 5, 10, 8, 30, 0, 0, time.UTC)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(entsql.OpenDB(dialect.Postgres, db)), mock
}

func TestMarkProgressWarningSent_GuardedUpdate(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "leads" SET "progress_warning_sent_at" = $1, "updated_at" = $2 WHERE "id" = $3 AND`) +
		`.*"progress_warning_sent_at" IS NULL.*"clock_stopped_at" IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "leads"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.MarkProgressWarningSent(context.Background(), 1, mockNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkProgressWarningSent(context.Background(), 1, mockNow)
	require.NoError(t, err)
	assert.False(t, ok, "zero affected rows means another writer won")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireLead_TransactionWithHistory(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "leads" SET "owner_user_id" = NULL, "status" = $1, "expired_at" = $2, "updated_at" = $3 WHERE`)+
		`.*"status" = \$5.*"owner_user_id" = \$6.*"progress_warning_sent_at" <= \$7.*"clock_stopped_at" IS NULL.*"gdpr_deleted_at" IS NULL`).
		WithArgs(string(models.StatusExpired), mockNow, mockNow, 7, string(models.StatusActive), 4, mockNow.AddDate(0, 0, -10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "lead_status_history"`)).
		WithArgs(7, nil, string(models.StatusActive), string(models.StatusExpired), "protection expired", mockNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	owner := 4
	ok, err := s.ExpireLead(context.Background(), 7, models.StatusActive, &owner, mockNow, "protection expired")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireLead_LostRaceRollsBack(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "leads"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := s.ExpireLead(context.Background(), 7, models.StatusActive, nil, mockNow, "protection expired")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireLead_RejectsNonWorkingObservedStatus(t *testing.T) {
	s, mock := setupMockStore(t)

	ok, err := s.ExpireLead(context.Background(), 7, models.StatusConverted, nil, mockNow, "protection expired")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement is issued")
}

func TestExpireLead_UnownedLeadGuardsOnNullOwner(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "leads"`)+`.*"status" = \$5.*"owner_user_id" IS NULL`).
		WithArgs(string(models.StatusExpired), mockNow, mockNow, 7, string(models.StatusActive), mockNow.AddDate(0, 0, -10)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := s.ExpireLead(context.Background(), 7, models.StatusActive, nil, mockNow, "protection expired")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPseudonymizeLead_SingleStatement(t *testing.T) {
	s, mock := setupMockStore(t)
	hash := "0f0f"

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "leads" SET "email_normalized" = NULL, "phone" = NULL, "phone_e164" = NULL, "street" = NULL, "postal_code" = NULL, "city" = NULL, "website" = NULL, "email" = $1, "email_hash" = $2, "contact_person" = $3, "pseudonymized_at" = $4 WHERE`)+
		`.*"pseudonymized_at" IS NULL.*"gdpr_deleted_at" IS NULL`).
		WithArgs(hash, hash, AnonymizedMarker, mockNow, 3, string(models.StatusExpired), mockNow.AddDate(0, 0, -60)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.PseudonymizeLead(context.Background(), 3, &hash, mockNow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCandidates_StoreUnavailable(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM "leads"`).WillReturnError(errors.New("connection refused"))

	_, err := s.FindExpiryCandidates(context.Background(), mockNow, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}
