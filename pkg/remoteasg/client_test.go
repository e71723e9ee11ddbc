package remoteasg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNewASGFollowsLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eu-west-1/autoScaling/save", r.URL.Path)
		w.Header().Set("Location", "http://remote/eu-west-1/autoScaling/show/foo-prod")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	location, err := c.CreateNewASG(context.Background(), "eu-west-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://remote/eu-west-1/autoScaling/show/foo-prod", location)
}

func TestCreateNewASGUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateNewASG(context.Background(), "eu-west-1", nil)
	assert.Error(t, err)
}

func TestCreateNewASGMalformedLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateNewASG(context.Background(), "eu-west-1", nil)
	assert.Error(t, err)
}

func TestMutateAppendsJSONSuffixToTaskURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1", r.Form.Get("_action_delete"))
		assert.Equal(t, "foo-prod-v001", r.Form.Get("name"))
		w.Header().Set("Location", "http://remote/eu-west-1/cluster/task/123")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	taskURL, err := c.Mutate(context.Background(), "eu-west-1", ActionDelete, "foo-prod-v001", "deployment-1")
	require.NoError(t, err)
	assert.Equal(t, "http://remote/eu-west-1/cluster/task/123.json", taskURL)
}

func TestFetchTaskStatusNormalizesLogAndUpdateTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "completed",
			"log": ["2024-01-02_03:04:05 Creating auto scaling group 'foo-prod-v002'"],
			"updateTime": "2024-01-02 03:05:00 UTC"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.FetchTaskStatus(context.Background(), srv.URL+"/task/123.json")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	require.Len(t, status.Log, 1)
	assert.Equal(t, "Creating auto scaling group 'foo-prod-v002'", status.Log[0].Message)

	name, ok := ExtractNewASGName(status.Log)
	assert.True(t, ok)
	assert.Equal(t, "foo-prod-v002", name)
}

func TestParseLogLineRejectsMalformed(t *testing.T) {
	_, err := ParseLogLine("not-a-timestamped-line")
	assert.Error(t, err)
}

func TestParseUpdateTimeSubstitutesZone(t *testing.T) {
	ts, err := ParseUpdateTime("2024-06-15 12:00:00 UTC")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 12, ts.Hour())
}
