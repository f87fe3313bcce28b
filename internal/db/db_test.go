package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o600))
}

func TestReadMigrationsSortsAndSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_add_index.sql", "CREATE INDEX x ON orders (sender_id);")
	writeMigration(t, dir, "001_orders_table.sql", "CREATE TABLE orders (id UUID);")
	writeMigration(t, dir, "README.md", "docs")
	writeMigration(t, dir, "seed.sql", "INSERT 1;")

	migrations, err := readMigrations(dir)
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Number)
	assert.Equal(t, "orders_table", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Number)
}

func TestRunMigrationsAppliesPending(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_orders.sql", "CREATE TABLE orders (id UUID);")
	writeMigration(t, dir, "002_index.sql", "CREATE INDEX idx ON orders (id);")

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	database := Wrap(sqlDB, zaptest.NewLogger(t))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM schema_migrations").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM schema_migrations").WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE INDEX idx ON orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(2, "index").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, database.RunMigrations(context.Background(), dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_orders.sql", "CREATE TABLE orders (id UUID);")

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	database := Wrap(sqlDB, zaptest.NewLogger(t))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE orders").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = database.RunMigrations(context.Background(), dir)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsEmptyDir(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, Wrap(sqlDB, nil).RunMigrations(context.Background(), t.TempDir()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRequiresConnectionString(t *testing.T) {
	_, err := New(context.Background(), "", nil)
	assert.Error(t, err)
}
