package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isDuplicateKey(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isDuplicateKey(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isDuplicateKey(errors.New("boom")))
	assert.False(t, isDuplicateKey(nil))
}

// Runs against a real database when DATABASE_TEST_URL is set.
func TestStoreAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("DATABASE_TEST_URL")
	if dsn == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn, 2, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(ctx))

	_, err = s.ProfileOwner(ctx, "missing-profile")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.DeleteExpiredTokens(ctx, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}
