package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDeployment() *types.Deployment {
	return types.NewDeployment("checkout", "staging", "us-east-1", "ami-123", "dana", "roll forward", types.Parameters{"parallelism": 2})
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	d := sampleDeployment()

	require.NoError(t, s.Upsert(d))

	got, err := s.Get(d.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, d.Application, got.Application)
	assert.Equal(t, d.Environment, got.Environment)
	assert.Len(t, got.Tasks, len(d.Tasks))
}

func TestGetMissingReturnsError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("does-not-exist")
	assert.Error(t, err)
}

func TestMergeParametersOverlays(t *testing.T) {
	s := newTestStore(t)
	d := sampleDeployment()
	require.NoError(t, s.Upsert(d))

	require.NoError(t, s.MergeParameters(d.DeploymentID, map[string]interface{}{
		"parallelism": 4,
		"delay_ms":    500,
	}))

	got, err := s.Get(d.DeploymentID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Parameters["parallelism"])
	assert.EqualValues(t, 500, got.Parameters["delay_ms"])
}

func TestUpdateTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	d := sampleDeployment()
	require.NoError(t, s.Upsert(d))

	original := make([]*types.Task, len(d.Tasks))
	copy(original, d.Tasks)

	target := d.Tasks[2]
	updated := *target
	updated.Status = types.TaskCompleted

	require.NoError(t, s.UpdateTask(d.DeploymentID, &updated))

	got, err := s.Get(d.DeploymentID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, len(original))
	for i, task := range got.Tasks {
		if task.TaskID == target.TaskID {
			assert.Equal(t, types.TaskCompleted, task.Status)
		} else {
			assert.Equal(t, original[i].TaskID, task.TaskID)
			assert.Equal(t, original[i].Status, task.Status)
		}
	}
}

func TestUpdateTaskUnknownIDErrors(t *testing.T) {
	s := newTestStore(t)
	d := sampleDeployment()
	require.NoError(t, s.Upsert(d))

	ghost := &types.Task{TaskID: "does-not-exist"}
	assert.Error(t, s.UpdateTask(d.DeploymentID, ghost))
}

func TestFindIncompleteAndBroken(t *testing.T) {
	s := newTestStore(t)

	incomplete := sampleDeployment()
	require.NoError(t, s.Upsert(incomplete))

	complete := sampleDeployment()
	for _, task := range complete.Tasks {
		task.Status = types.TaskCompleted
	}
	now := complete.Created
	complete.Start = &now
	complete.End = &now
	require.NoError(t, s.Upsert(complete))

	foundIncomplete, err := s.FindIncomplete()
	require.NoError(t, err)
	ids := make([]string, 0, len(foundIncomplete))
	for _, d := range foundIncomplete {
		ids = append(ids, d.DeploymentID)
	}
	assert.Contains(t, ids, incomplete.DeploymentID)
	assert.NotContains(t, ids, complete.DeploymentID)

	foundBroken, err := s.FindBroken()
	require.NoError(t, err)
	brokenIDs := make([]string, 0, len(foundBroken))
	for _, d := range foundBroken {
		brokenIDs = append(brokenIDs, d.DeploymentID)
	}
	assert.Contains(t, brokenIDs, incomplete.DeploymentID)
	assert.NotContains(t, brokenIDs, complete.DeploymentID)
}
