package spool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
)

// echoExecutor answers 200 for "me" and 400 for everything else.
func echoExecutor() batch.ExecutorFunc[graph.Request] {
	return func(_ context.Context, reqs []graph.Request, _ batch.ExecuteOptions) ([]batch.Response, error) {
		out := make([]batch.Response, len(reqs))
		for i, r := range reqs {
			if r.RelativeURL == "me" {
				out[i] = batch.Response{Code: 200, Body: json.RawMessage(`{"id":"42"}`)}
				continue
			}
			out[i] = batch.Response{Code: 400, Body: json.RawMessage(`{"error":{"message":"unknown path"}}`)}
		}
		return out, nil
	}
}

func writeRequest(t *testing.T, dir, name string, req graph.Request) {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), b, 0o644))
}

func readDoc(t *testing.T, path string, v any) bool {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

func TestWatcher_ProcessesFiles(t *testing.T) {
	dir := t.TempDir()
	q := batch.New[graph.Request](echoExecutor(), batch.WithDelay(20*time.Millisecond))
	defer q.Stop()

	// Present before start.
	writeRequest(t, dir, "early.json", graph.NewRequest("GET", "me", nil))

	w, err := New(Config{Dir: dir, DebounceDelay: 10 * time.Millisecond}, q, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var early Result
	require.Eventually(t, func() bool {
		return readDoc(t, filepath.Join(dir, "early"+ResultSuffix), &early)
	}, 5*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"id":"42"}`, string(early.Body))
	assert.NotEmpty(t, early.ID)
	assert.NoFileExists(t, filepath.Join(dir, "early"+InflightSuffix))

	// Dropped while running.
	writeRequest(t, dir, "late.json", graph.NewRequest("GET", "nowhere", nil))

	var late Failure
	require.Eventually(t, func() bool {
		return readDoc(t, filepath.Join(dir, "late"+ErrorSuffix), &late)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 400, late.Code)
	assert.Contains(t, late.Error, "unknown path")
	assert.NoFileExists(t, filepath.Join(dir, "late.json"))

	cancel()
	require.NoError(t, <-done)
	w.Close()
}

func TestWatcher_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	q := batch.New[graph.Request](echoExecutor())
	defer q.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	writeRequest(t, dir, "nomethod.json", graph.Request{RelativeURL: "me"})

	w, err := New(Config{Dir: dir}, q, nil)
	require.NoError(t, err)
	require.NoError(t, w.scan())
	w.Close()

	var broken Failure
	require.True(t, readDoc(t, filepath.Join(dir, "broken"+ErrorSuffix), &broken))
	assert.Contains(t, broken.Error, "decode request")

	var nomethod Failure
	require.True(t, readDoc(t, filepath.Join(dir, "nomethod"+ErrorSuffix), &nomethod))
	assert.Contains(t, nomethod.Error, "method is required")

	assert.Equal(t, 0, q.Len())
}

func TestWatcher_CloseLeavesUnsettledInflight(t *testing.T) {
	dir := t.TempDir()
	q := batch.New[graph.Request](echoExecutor(), batch.WithDelay(time.Hour))
	defer q.Stop()

	writeRequest(t, dir, "slow.json", graph.NewRequest("GET", "me", nil))

	w, err := New(Config{Dir: dir}, q, nil)
	require.NoError(t, err)
	require.NoError(t, w.scan())
	assert.Equal(t, 1, q.Len())

	w.Close()

	assert.FileExists(t, filepath.Join(dir, "slow"+InflightSuffix))
	assert.NoFileExists(t, filepath.Join(dir, "slow"+ResultSuffix))
}

func TestIsRequestFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.json", true},
		{"/spool/b.json", true},
		{"a.result.json", false},
		{"a.error.json", false},
		{"a.json.inflight", false},
		{"a.result.json.tmp", false},
		{".hidden.json", false},
		{"notes.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRequestFile(tt.name))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	q := batch.New[graph.Request](echoExecutor())
	defer q.Stop()

	_, err := New(Config{}, q, nil)
	assert.Error(t, err)

	_, err = New(Config{Dir: t.TempDir()}, nil, nil)
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "spool")
	w, err := New(Config{Dir: dir}, q, nil)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, w.Dir())
}
