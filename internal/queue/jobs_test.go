package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReclaimTask(t *testing.T) {
	task, err := NewReclaimTask(ReclaimPayload{RelativePath: "2024/05/a.mp3"})
	require.NoError(t, err)
	assert.Equal(t, ReclaimAssetTask, task.Type())
	assert.JSONEq(t, `{"relative_path":"2024/05/a.mp3"}`, string(task.Payload()))

	var back ReclaimPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &back))
	assert.Equal(t, "2024/05/a.mp3", back.RelativePath)
}
