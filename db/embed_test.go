package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	assert.Equal(t, "migrations/001_schema.sql", ms[0].Name)
	assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS order_promotions")
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Name, ms[i].Name)
	}
}

func TestFixtures(t *testing.T) {
	assert.True(t, strings.HasPrefix(string(Fixtures), "channels:"))
}
