package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pasi-sync-api/internal/store"
)

func newRecordStoreMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

type recordFixture struct {
	ASN         string                       `json:"asn"`
	Linked      bool                         `json:"linked"`
	PasiRecords map[string]map[string]string `json:"pasiRecords"`
}

func TestRecordStoreRepositoryGetRebuildsSubtree(t *testing.T) {
	db, mock, cleanup := newRecordStoreMock(t)
	defer cleanup()
	repo := NewRecordStoreRepository(db, nil, nil, nil)

	rows := sqlmock.NewRows([]string{"path", "value"}).
		AddRow("studentCourseSummaries/a_55/asn", []byte(`"123456789"`)).
		AddRow("studentCourseSummaries/a_55/linked", []byte(`true`)).
		AddRow("studentCourseSummaries/a_55/pasiRecords/XYZ3/linkId", []byte(`"l1"`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, value FROM record_nodes WHERE path = $1 OR starts_with(path, $2) ORDER BY path")).
		WithArgs("studentCourseSummaries/a_55", "studentCourseSummaries/a_55/").
		WillReturnRows(rows)

	var got recordFixture
	found, err := repo.Get(context.Background(), "/studentCourseSummaries/a_55", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "123456789", got.ASN)
	assert.True(t, got.Linked)
	assert.Equal(t, "l1", got.PasiRecords["XYZ3"]["linkId"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newRecordStoreMock(t)
	defer cleanup()
	repo := NewRecordStoreRepository(db, nil, nil, nil)

	mock.ExpectQuery("SELECT path, value FROM record_nodes").
		WillReturnRows(sqlmock.NewRows([]string{"path", "value"}))

	found, err := repo.Get(context.Background(), "registryRecords/none", nil)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRepositoryUpdateCommitsAndNotifies(t *testing.T) {
	db, mock, cleanup := newRecordStoreMock(t)
	defer cleanup()
	hub := store.NewHub()
	repo := NewRecordStoreRepository(db, hub, nil, nil)

	var changed []string
	sub := repo.Subscribe("registryRecords/r1", func(c store.Change) { changed = append(changed, c.Path) })
	defer sub.Unsubscribe()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM record_nodes WHERE path = $1 OR starts_with(path, $2)")).
		WithArgs("pasiSyncReport/schoolYear/24_25/newLinks/failed/123456789_XYZ3", "pasiSyncReport/schoolYear/24_25/newLinks/failed/123456789_XYZ3/").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM record_nodes WHERE path = $1 OR starts_with(path, $2)")).
		WithArgs("registryRecords/r1/linked", "registryRecords/r1/linked/").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM record_nodes WHERE path = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO record_nodes (path, value, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("registryRecords/r1/linked", []byte("true"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), map[string]interface{}{
		"registryRecords/r1/linked":                                      true,
		"pasiSyncReport/schoolYear/24_25/newLinks/failed/123456789_XYZ3": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"registryRecords/r1/linked"}, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRepositoryUpdateRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newRecordStoreMock(t)
	defer cleanup()
	repo := NewRecordStoreRepository(db, nil, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM record_nodes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM record_nodes WHERE path = ANY").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO record_nodes").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), map[string]interface{}{"pasiLinks/l1/pasiRecordId": "r1"})
	require.ErrorIs(t, err, store.ErrWriteFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRepositoryUpdateIfExistsLocksGuard(t *testing.T) {
	db, mock, cleanup := newRecordStoreMock(t)
	defer cleanup()
	repo := NewRecordStoreRepository(db, nil, nil, nil)
	guard := "pasiSyncReport/schoolYear/24_25/newLinks/failed/123456789_XYZ3"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT path FROM record_nodes WHERE path = $1 OR starts_with(path, $2) FOR UPDATE")).
		WithArgs(guard, guard+"/").
		WillReturnRows(sqlmock.NewRows([]string{"path"}).AddRow(guard + "/asn"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM record_nodes WHERE path = $1 OR starts_with(path, $2)")).
		WithArgs(guard+"/checked", guard+"/checked/").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM record_nodes WHERE path = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO record_nodes (path, value, updated_at) VALUES ($1, $2, $3)")).
		WithArgs(guard+"/checked", []byte("true"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateIfExists(context.Background(), guard, map[string]interface{}{guard + "/checked": true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRepositoryUpdateIfExistsSkipsMissingGuard(t *testing.T) {
	db, mock, cleanup := newRecordStoreMock(t)
	defer cleanup()
	hub := store.NewHub()
	repo := NewRecordStoreRepository(db, hub, nil, nil)
	guard := "pasiSyncReport/schoolYear/24_25/newLinks/failed/123456789_XYZ3"

	var changed []string
	sub := repo.Subscribe(guard, func(c store.Change) { changed = append(changed, c.Path) })
	defer sub.Unsubscribe()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT path FROM record_nodes WHERE .* FOR UPDATE").
		WithArgs(guard, guard+"/").
		WillReturnRows(sqlmock.NewRows([]string{"path"}))
	mock.ExpectRollback()

	err := repo.UpdateIfExists(context.Background(), guard, map[string]interface{}{guard + "/checked": true})
	require.ErrorIs(t, err, store.ErrGuardMissing)
	assert.Empty(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAncestorPaths(t *testing.T) {
	assert.Nil(t, ancestorPaths("registryRecords"))
	assert.Equal(t, []string{"a", "a/b"}, ancestorPaths("a/b/c"))
}
