package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"github.com/wyfcoding/pricing/config"
	"github.com/wyfcoding/pricing/database"
	"github.com/wyfcoding/pricing/logging"
	"github.com/wyfcoding/pricing/xerrors"
)

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	data := "order_id,order_time,product_name,channel,quantity,revenue,cost\n" +
		"o1,2024-01-01,Tea,app,2,6,3\n" +
		"o2,2024-01-02,Tea,app,,6,3\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	src, err := New(config.IngestConfig{Source: "file", Path: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, src.Name())

	res, err := LoadLogged(context.Background(), src, logging.Default())
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Tea|app", res.Lines[0].Key())
}

func TestFileSourceErrors(t *testing.T) {
	_, err := NewFileSource("orders.json", config.IngestConfig{}).Load(context.Background())
	assert.True(t, errors.Is(err, xerrors.ErrUnsupportedFormat))

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.csv"), config.IngestConfig{}).Load(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileSource("orders.csv", config.IngestConfig{}).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.IngestConfig{Source: "file"}, nil)
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
	_, err = New(config.IngestConfig{Source: "database"}, nil)
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
	_, err = New(config.IngestConfig{Source: "kafka"}, nil)
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
}

func TestGormSource(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := database.Open(postgres.New(postgres.Config{Conn: sqlDB}), config.Default().Database, config.BreakerConfig{}, nil, nil)
	require.NoError(t, err)

	src, err := New(config.IngestConfig{Source: "database", Channel: "app", LookbackDays: 30}, db)
	require.NoError(t, err)
	gs := src.(*GormSource)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	gs.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT \* FROM "order_lines" WHERE order_time >= .* AND channel = .*`).
		WithArgs(sqlmock.AnyArg(), "app").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "order_time", "product_name", "channel", "quantity", "revenue", "cost"}).
			AddRow("o1", now.AddDate(0, 0, -1), "Tea", "app", 1.0, 3.0, 2.0))

	res, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "Tea|app", res.Lines[0].Key())

	mock.ExpectQuery(`SELECT \* FROM "order_lines"`).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))
	_, err = src.Load(context.Background())
	assert.True(t, errors.Is(err, xerrors.ErrEmptyData))
	assert.NoError(t, mock.ExpectationsWereMet())
}
