package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob_WrapsPayload(t *testing.T) {
	endedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job, err := NewJob(JobTypeSessionArchive, SessionArchivePayload{RoomID: 7, RoomCode: "ABCD", EndedBy: 1, EndedAt: endedAt})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobTypeSessionArchive, job.Type)
	assert.Zero(t, job.Attempt)

	var got SessionArchivePayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, int64(7), got.RoomID)
	assert.Equal(t, "ABCD", got.RoomCode)
	assert.True(t, endedAt.Equal(got.EndedAt))
}

func TestNewJob_UniqueIDs(t *testing.T) {
	a, err := NewJob(JobTypeSessionArchive, SessionArchivePayload{})
	require.NoError(t, err)
	b, err := NewJob(JobTypeSessionArchive, SessionArchivePayload{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
