package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "archives/ABCD12/42.json", ArchiveKey("ABCD12", 42))
}

func TestPresignExpire(t *testing.T) {
	assert.Equal(t, 15*time.Minute, (&S3{}).PresignExpire())
	assert.Equal(t, 5*time.Minute, (&S3{cfg: S3Config{PresignExpireMinutes: 5}}).PresignExpire())
}

func TestNewS3_RequiresRegion(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{}, zap.NewNop())
	assert.Error(t, err)
}
