package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetArticleCacheBytes(t *testing.T) {
	cfg := &Config{Queue: QueueConfig{ArticleCacheMB: 32}}
	assert.Equal(t, int64(32*1024*1024), cfg.GetArticleCacheBytes())
}

func TestGetArticleCacheBytesDefault(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, int64(64*1024*1024), cfg.GetArticleCacheBytes())
}
