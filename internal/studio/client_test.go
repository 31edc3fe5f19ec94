package studio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakeStudio is an in-memory stand-in for the Studio API serving one project.
type fakeStudio struct {
	mu            sync.Mutex
	apiKey        string
	project       int
	hasDeployment bool
	statusCalls   int
	finishAfter   int
	succeed       bool
	builds        []buildRequest
	stdout        []string // oldest first
}

func (f *fakeStudio) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}

	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "projects": []map[string]any{{"id": f.project, "name": "kws"}}})
	})
	mux.HandleFunc("GET /{project}/deployment", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zip", r.URL.Query().Get("type"))
		writeJSON(w, map[string]any{"success": true, "hasDeployment": f.hasDeployment})
	})
	mux.HandleFunc("POST /{project}/jobs/build-ondevice-model", func(w http.ResponseWriter, r *http.Request) {
		var req buildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.builds = append(f.builds, req)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"success": true, "id": 77})
	})
	mux.HandleFunc("GET /{project}/jobs/{job}/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.statusCalls++
		done := f.statusCalls > f.finishAfter
		f.stdout = append(f.stdout, "step "+string(rune('0'+f.statusCalls))+"\n")
		f.mu.Unlock()

		job := map[string]any{"id": 77}
		if done {
			job["finished"] = "2024-01-01T00:00:00Z"
			job["finishedSuccessful"] = f.succeed
		}
		writeJSON(w, map[string]any{"success": true, "job": job})
	})
	mux.HandleFunc("GET /{project}/jobs/{job}/stdout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		entries := make([]map[string]string, 0, len(f.stdout))
		for i := len(f.stdout) - 1; i >= 0; i-- {
			entries = append(entries, map[string]string{"data": f.stdout[i]})
		}
		f.mu.Unlock()
		writeJSON(w, map[string]any{"success": true, "stdout": entries})
	})
	mux.HandleFunc("GET /{project}/deployment/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename*=utf-8''kws-v3.zip`)
		_, _ = w.Write([]byte("PK-archive"))
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != f.apiKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"Invalid API key"}`))
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func newFake(t *testing.T, f *fakeStudio) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(f.apiKey, WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
}

func TestResolveDefaultProject(t *testing.T) {
	c := newFake(t, &fakeStudio{apiKey: "ei_key", project: 4242})

	id, err := c.ResolveDefaultProject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4242, id)
}

func TestResolveDefaultProject_BadKey(t *testing.T) {
	f := &fakeStudio{apiKey: "ei_key", project: 1}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := NewClient("wrong", WithBaseURL(srv.URL))
	_, err := c.ResolveDefaultProject(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid API key", apiErr.Message)
}

func TestDownload_UsesPrebuiltArtifact(t *testing.T) {
	f := &fakeStudio{apiKey: "k", project: 5, hasDeployment: true}
	c := newFake(t, f)

	art, err := c.Download(context.Background(), 5, BuildOptions{Engine: EngineEON, ModelType: ModelInt8}, nil)
	require.NoError(t, err)
	assert.Equal(t, "kws-v3.zip", art.Filename)
	assert.Equal(t, []byte("PK-archive"), art.Data)
	assert.Empty(t, f.builds)
}

func TestDownload_BuildsWhenMissing(t *testing.T) {
	f := &fakeStudio{apiKey: "k", project: 5, finishAfter: 2, succeed: true}
	c := newFake(t, f)

	var logs strings.Builder
	art, err := c.Download(context.Background(), 5, BuildOptions{Engine: EngineTFLite, ModelType: ModelFloat32}, &logs)
	require.NoError(t, err)
	require.NotNil(t, art)

	require.Len(t, f.builds, 1)
	assert.Equal(t, buildRequest{Engine: EngineTFLite, ModelType: ModelFloat32}, f.builds[0])
	// Each log line is written exactly once, oldest first.
	assert.Equal(t, "step 1\nstep 2\nstep 3\n", logs.String())
}

func TestDownload_ForceBuild(t *testing.T) {
	f := &fakeStudio{apiKey: "k", project: 5, hasDeployment: true, succeed: true}
	c := newFake(t, f)

	_, err := c.Download(context.Background(), 5, BuildOptions{Engine: EngineEON, ModelType: ModelInt8, ForceBuild: true}, nil)
	require.NoError(t, err)
	assert.Len(t, f.builds, 1)
}

func TestAwaitJob_Failed(t *testing.T) {
	f := &fakeStudio{apiKey: "k", project: 5, succeed: false}
	c := newFake(t, f)

	err := c.AwaitJob(context.Background(), 5, 77, nil)
	assert.ErrorIs(t, err, ErrBuildFailed)
}

func TestAwaitJob_ContextCanceled(t *testing.T) {
	f := &fakeStudio{apiKey: "k", project: 5, finishAfter: 1 << 30}
	c := newFake(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.AwaitJob(ctx, 5, 77, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "a.zip", attachmentName(`attachment; filename="a.zip"`, 1))
	assert.Equal(t, "ei-project-9.zip", attachmentName("", 9))
}
