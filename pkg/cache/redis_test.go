package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sis-request-api/pkg/config"
)

func TestNewRedisDisabled(t *testing.T) {
	_, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false, Host: "localhost", Port: 6379})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewRedis(context.Background(), config.RedisConfig{Enabled: true})
	assert.ErrorIs(t, err, ErrDisabled)
}
