package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "raw_businesses", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"raw_businesses"}, []string{"a", "b"}).WillReturnResult(3)

	n, err := CopyFrom(context.Background(), mock, "raw_businesses", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}, {3, "z"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"raw_businesses"}, []string{"a"}).WillReturnError(errors.New("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "raw_businesses", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO raw_businesses")
}

func TestPgErrorCodes(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503"}
	uniq := &pgconn.PgError{Code: "23505"}

	assert.True(t, IsForeignKeyViolation(fk))
	assert.False(t, IsForeignKeyViolation(uniq))
	assert.True(t, IsUniqueViolation(uniq))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}
