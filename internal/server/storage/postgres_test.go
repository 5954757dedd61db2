package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return &PostgresStore{db: db}, mock, db
}

func TestGet_Found(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT data, version, deleted, updated_at FROM entities`).
		WithArgs("u1", "content", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version", "deleted", "updated_at"}).
			AddRow([]byte(`{"id":"c1"}`), int64(3), false, int64(100)))

	rec, err := store.Get(context.Background(), "u1", syncmodel.EntityContent, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, "u1", rec.UserID)
	assert.False(t, rec.Deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_AbsentReturnsNil(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT data, version, deleted, updated_at FROM entities`).
		WithArgs("u1", "content", "nope").
		WillReturnError(sql.ErrNoRows)

	rec, err := store.Get(context.Background(), "u1", syncmodel.EntityContent, "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpsert_Exec(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO entities .* ON CONFLICT .* DO UPDATE SET`).
		WithArgs("u1", "content", "c1", []byte(`{"id":"c1"}`), int64(2), true, int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), &Record{
		UserID:     "u1",
		EntityType: syncmodel.EntityContent,
		EntityID:   "c1",
		Data:       []byte(`{"id":"c1"}`),
		Version:    2,
		Deleted:    true,
		UpdatedAt:  50,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_DBError(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO entities`).
		WillReturnError(errors.New("connection lost"))

	err := store.Upsert(context.Background(), &Record{
		UserID: "u1", EntityType: syncmodel.EntityContent, EntityID: "c1", Version: 1,
	})
	require.Error(t, err)
}

func TestListSince_FiltersOnWatermarks(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT entity_type, entity_id, data, version, deleted, updated_at FROM entities`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "entity_id", "data", "version", "deleted", "updated_at"}).
			AddRow("content", "a", []byte(`{}`), int64(2), false, int64(1)).
			AddRow("content", "b", []byte(`{}`), int64(5), false, int64(2)))

	recs, err := store.ListSince(context.Background(), "u1", map[string]int64{
		syncmodel.SinceKey(syncmodel.EntityContent, "a"): 2,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].EntityID)
}

func TestListLive_ScansRows(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT entity_type, entity_id, data, version, deleted, updated_at FROM entities .* deleted = FALSE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "entity_id", "data", "version", "deleted", "updated_at"}).
			AddRow("tag", "t1", []byte(`{"id":"t1"}`), int64(1), false, int64(5)))

	recs, err := store.ListLive(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, syncmodel.EntityTag, recs[0].EntityType)
}
