package intake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/types"
)

type fakeStore struct {
	upserted []*types.Deployment
}

func (f *fakeStore) Upsert(d *types.Deployment) error {
	f.upserted = append(f.upserted, d)
	return nil
}

type fakeQueue struct {
	enqueued [][]byte
}

func (f *fakeQueue) Enqueue(_ context.Context, payload []byte) error {
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func fakeConfig(_ context.Context, _, _, _ string) (string, types.Parameters, error) {
	return "hash-123", types.Parameters{"min": 2}, nil
}

func TestApplicationFromAMI(t *testing.T) {
	app, ok := ApplicationFromAMI("checkout-20240101")
	require.True(t, ok)
	assert.Equal(t, "checkout", app)

	app, ok = ApplicationFromAMI("checkout_20240101")
	require.True(t, ok)
	assert.Equal(t, "checkout", app)

	_, ok = ApplicationFromAMI("nodashornounderscore")
	assert.False(t, ok)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	st := &fakeStore{}
	q := &fakeQueue{}
	in := New(st, q, fakeConfig)

	_, err := in.Submit(context.Background(), Request{Application: "checkout"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestSubmitRejectsImageMismatch(t *testing.T) {
	st := &fakeStore{}
	q := &fakeQueue{}
	in := New(st, q, fakeConfig)

	req := Request{
		Application: "checkout",
		Environment: "staging",
		Region:      "us-east-1",
		User:        "dana",
		AMI:         "billing-20240101",
	}
	_, err := in.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindImageMismatch))
	assert.Empty(t, st.upserted)
}

func TestSubmitPersistsAndEnqueues(t *testing.T) {
	st := &fakeStore{}
	q := &fakeQueue{}
	in := New(st, q, fakeConfig)

	req := Request{
		Application: "checkout",
		Environment: "staging",
		Region:      "us-east-1",
		User:        "dana",
		AMI:         "checkout-20240101",
		Message:     "roll forward",
	}
	d, err := in.Submit(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, st.upserted, 1)
	assert.Equal(t, d.DeploymentID, st.upserted[0].DeploymentID)
	assert.Equal(t, "hash-123", d.ConfigHash)
	assert.EqualValues(t, 2, d.Parameters.Min())

	require.Len(t, q.enqueued, 1)
	assert.Contains(t, string(q.enqueued[0]), d.DeploymentID)
}
