package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/filevault/internal/apperr"
)

// Nothing listens on port 1, so every attempt fails fast.
const unreachableDSN = "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable connect_timeout=1"

func TestConnectRetriesThenFails(t *testing.T) {
	logger, hook := test.NewNullLogger()

	_, err := Connect(context.Background(), logger, PostgresConfig{
		DSN:        unreachableDSN,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDatabase))

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Database connection failed" {
			warnings++
			assert.Equal(t, "database", e.Data["component"])
		}
	}
	assert.Equal(t, 3, warnings)
	assert.Equal(t, "Failed to connect to database after retries", hook.LastEntry().Message)
}

func TestConnectStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, logger, PostgresConfig{
		DSN:        unreachableDSN,
		MaxRetries: 10,
		RetryDelay: time.Hour,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
