package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxi-dispatch/backend/migrations"
)

func TestUpMigrationsOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":       {Data: []byte("-")},
	}
	files, err := upMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, files)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := upMigrations(migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_payments.up.sql", "0002_notifications.up.sql", "0003_payment_events.up.sql"}, files)
}
