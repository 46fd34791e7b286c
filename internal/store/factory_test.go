package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	for _, dsn := range []string{"", "memory://", "inmem://"} {
		s, err := Open(context.Background(), dsn)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	}
}

func TestOpenDynamoRequiresTable(t *testing.T) {
	_, err := Open(context.Background(), "dynamodb://?region=eu-west-1")
	assert.Error(t, err)

	s, err := Open(context.Background(), "dynamodb://incident-locks?region=eu-west-1&endpoint=http://127.0.0.1:8000")
	require.NoError(t, err)
	d, ok := s.(*DynamoStore)
	require.True(t, ok)
	assert.Equal(t, "incident-locks", d.table)
}

func TestOpenRedis(t *testing.T) {
	s, err := Open(context.Background(), "redis://127.0.0.1:6379/0")
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	_ = s.Close()
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	assert.Error(t, err)
}

func TestClassifyPostgres(t *testing.T) {
	assert.NoError(t, classifyPostgres(nil))
	assert.ErrorIs(t, classifyPostgres(&pgconn.PgError{Code: undefinedTable, Message: "relation does not exist"}), ErrTableMissing)

	err := classifyPostgres(&pgconn.PgError{Code: "23505"})
	assert.Error(t, err)
	assert.False(t, IsDegraded(err))

	assert.ErrorIs(t, classifyPostgres(context.DeadlineExceeded), ErrUnavailable)
}
