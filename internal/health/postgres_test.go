package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLog_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO permit_health.health_log`).
		WithArgs("phoenix", "success", 42, "", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	log := NewPostgresLog(mock)
	require.NoError(t, log.Append(context.Background(), Record{Source: "phoenix", At: at, Outcome: OutcomeSuccess, Count: 42}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_LastSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT recorded_at FROM permit_health.health_log`).
		WithArgs("phoenix").
		WillReturnRows(pgxmock.NewRows([]string{"recorded_at"}).AddRow(at))

	last, err := NewPostgresLog(mock).LastSuccess(context.Background(), "phoenix")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, at.Equal(*last))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_LastSuccess_None(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT recorded_at FROM permit_health.health_log`).
		WithArgs("mesa").
		WillReturnError(pgx.ErrNoRows)

	last, err := NewPostgresLog(mock).LastSuccess(context.Background(), "mesa")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_LastSuccess_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT recorded_at`).
		WithArgs("mesa").
		WillReturnError(fmt.Errorf("connection refused"))

	_, err = NewPostgresLog(mock).LastSuccess(context.Background(), "mesa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last success for mesa")
}

func TestPostgresLog_History(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT status, record_count, detail, recorded_at FROM permit_health.health_log[\s\S]*LIMIT \$2`).
		WithArgs("phoenix", 2).
		WillReturnRows(pgxmock.NewRows([]string{"status", "record_count", "detail", "recorded_at"}).
			AddRow("failure", 0, "timeout", at.Add(time.Hour)).
			AddRow("success", 9, "", at))

	hist, err := NewPostgresLog(mock).History(context.Background(), "phoenix", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, OutcomeFailure, hist[0].Outcome)
	assert.Equal(t, "timeout", hist[0].Detail)
	assert.Equal(t, 9, hist[1].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
