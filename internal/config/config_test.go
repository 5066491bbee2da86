package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "global_chat", cfg.RoomID)
	assert.Equal(t, "./uploads", cfg.UploadDir)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadSize)
	assert.Equal(t, 10000, cfg.MaxWSConnections)
	assert.Equal(t, 10, cfg.DBMaxConnections())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("ROOM_ID", "test_room")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "2")
	t.Setenv("DB_MAX_CONNECTIONS", "25")
	t.Setenv("DATABASE_URL", "postgres://x:y@db:5432/z")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "test_room", cfg.RoomID)
	assert.Equal(t, int64(2<<20), cfg.MaxUploadSize)
	assert.Equal(t, 25, cfg.DBMaxConnections())
	assert.Equal(t, "postgres://x:y@db:5432/z", cfg.DatabaseURL())
}

func TestEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("DB_MAX_CONNECTIONS", "not-a-number")
	cfg := Load()
	assert.Equal(t, 10, cfg.DBMaxConnections())
}
