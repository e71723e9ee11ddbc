package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/kvstore"
	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/remoteasg"
	"github.com/cuemby/relay/pkg/store"
	"github.com/cuemby/relay/pkg/tracker"
	"github.com/cuemby/relay/pkg/types"
)

func newTestKV(t *testing.T) *kvstore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c := kvstore.New(kvstore.Config{Addr: mr.Addr(), Prefix: "relay-test"})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fakeRemoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	n := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/us-east-1/autoScaling/save", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://example.test/asgs/checkout-green")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/us-east-1/cluster/createNextGroup", func(w http.ResponseWriter, r *http.Request) {
		n++
		w.Header().Set("Location", fmt.Sprintf("/tasks/%d", n))
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/us-east-1/cluster/index", func(w http.ResponseWriter, r *http.Request) {
		n++
		w.Header().Set("Location", fmt.Sprintf("/tasks/%d", n))
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"completed","log":[],"updateTime":"2024-01-01 00:00:05 UTC"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func noopResolveSG(_ context.Context, _, name string) (string, error) { return "sg-" + name, nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *kvstore.Client, *store.Store) {
	t.Helper()
	kv := newTestKV(t)
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := fakeRemoteServer(t)
	remote := remoteasg.NewClient(srv.URL)
	tr := tracker.NewWithDelay(5 * time.Millisecond)

	o := &Orchestrator{kv: kv, store: st}
	engine := pipeline.New(st, remote, tr, "vpc-1", noopResolveSG, o.Boundary, o.Finalize)
	o.engine = engine
	o.logger = zerolog.Nop()
	return o, kv, st
}

func TestIntakeRejectsWhenLocked(t *testing.T) {
	o, kv, st := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, kv.SetLock(ctx))

	d := types.NewDeployment("checkout", "staging", "us-east-1", "ami-1", "dana", "go", types.Parameters{})
	require.NoError(t, st.Upsert(d))

	err := o.Intake(ctx, d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindLocked))
}

func TestIntakeRejectsWhenAlreadyInProgress(t *testing.T) {
	o, kv, st := newTestOrchestrator(t)
	ctx := context.Background()

	d := types.NewDeployment("checkout", "staging", "us-east-1", "ami-1", "dana", "go", types.Parameters{})
	require.NoError(t, st.Upsert(d))

	_, err := kv.RegisterInProgress(ctx, d.CoordinationKey(), "some-other-id")
	require.NoError(t, err)

	err = o.Intake(ctx, d)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAlreadyInProgress))
}

func TestIntakeRunsDeploymentToCompletion(t *testing.T) {
	o, kv, st := newTestOrchestrator(t)
	ctx := context.Background()

	d := types.NewDeployment("checkout", "staging", "us-east-1", "ami-1", "dana", "go", types.Parameters{
		"min": 0,
	})
	require.NoError(t, st.Upsert(d))

	require.NoError(t, o.Intake(ctx, d))

	require.Eventually(t, func() bool {
		got, err := st.Get(d.DeploymentID)
		if err != nil {
			return false
		}
		return got.End != nil
	}, 5*time.Second, 20*time.Millisecond)

	inProgress, err := kv.AllInProgress(ctx)
	require.NoError(t, err)
	assert.NotContains(t, inProgress, d.CoordinationKey())
}

func TestConsumeIntakeDecodesAndRuns(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	ctx := context.Background()

	d := types.NewDeployment("checkout", "staging", "us-east-1", "ami-1", "dana", "go", types.Parameters{"min": 0})
	require.NoError(t, st.Upsert(d))

	payload, err := json.Marshal(map[string]string{"deployment_id": d.DeploymentID})
	require.NoError(t, err)

	require.NoError(t, o.ConsumeIntake(ctx, payload))
}

func TestSweepSkipsDeploymentsWithoutInProgressMapping(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	ctx := context.Background()

	d := types.NewDeployment("checkout", "staging", "us-east-1", "ami-1", "dana", "go", types.Parameters{})
	require.NoError(t, st.Upsert(d))

	require.NoError(t, o.Sweep(ctx))

	got, err := st.Get(d.DeploymentID)
	require.NoError(t, err)
	assert.Nil(t, got.End)
}
