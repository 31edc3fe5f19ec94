package studio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Engine names accepted by the deployment endpoints.
const (
	EngineEON    = "tflite-eon"
	EngineTFLite = "tflite"
)

// Model types accepted by the deployment endpoints.
const (
	ModelInt8    = "int8"
	ModelFloat32 = "float32"
)

type deploymentResponse struct {
	envelope
	HasDeployment bool `json:"hasDeployment"`
}

// HasPrebuiltArtifact reports whether a library for engine and modelType has
// already been built for project.
func (c *Client) HasPrebuiltArtifact(ctx context.Context, project int, engine, modelType string) (bool, error) {
	var resp deploymentResponse
	q := url.Values{"type": {"zip"}, "modelType": {modelType}, "engine": {engine}}
	if err := c.getJSON(ctx, projectPath(project, "/deployment"), q, &resp); err != nil {
		return false, err
	}
	return resp.HasDeployment, nil
}

type buildRequest struct {
	Engine    string `json:"engine"`
	ModelType string `json:"modelType"`
}

type buildResponse struct {
	envelope
	ID int `json:"id"`
}

// TriggerBuild starts a library build job and returns its id.
func (c *Client) TriggerBuild(ctx context.Context, project int, engine, modelType string) (int, error) {
	var resp buildResponse
	q := url.Values{"type": {"zip"}}
	err := c.doJSON(ctx, http.MethodPost, projectPath(project, "/jobs/build-ondevice-model"), q,
		buildRequest{Engine: engine, ModelType: modelType}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

type jobStatusResponse struct {
	envelope
	Job struct {
		ID                 int     `json:"id"`
		Finished           *string `json:"finished,omitempty"`
		FinishedSuccessful *bool   `json:"finishedSuccessful,omitempty"`
	} `json:"job"`
}

type jobStdoutResponse struct {
	envelope
	Stdout []struct {
		Data string `json:"data"`
	} `json:"stdout"`
}

// AwaitJob polls a job until it finishes. New build log lines are written to
// logs as they appear; logs may be nil. A job that finishes unsuccessfully
// yields ErrBuildFailed.
func (c *Client) AwaitJob(ctx context.Context, project, job int, logs io.Writer) error {
	if logs == nil {
		logs = io.Discard
	}
	seen := 0

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var status jobStatusResponse
		if err := c.getJSON(ctx, jobPath(project, job, "/status"), nil, &status); err != nil {
			return err
		}

		lines, err := c.jobStdout(ctx, project, job)
		if err != nil {
			return err
		}
		if seen < len(lines) {
			for _, l := range lines[seen:] {
				if _, err := io.WriteString(logs, l); err != nil {
					return fmt.Errorf("studio: write build log: %w", err)
				}
			}
			seen = len(lines)
		}

		if status.Job.Finished != nil {
			if status.Job.FinishedSuccessful == nil || !*status.Job.FinishedSuccessful {
				return fmt.Errorf("%w: project %d job %d", ErrBuildFailed, project, job)
			}
			return nil
		}

		c.logger.Debug("still building", zap.Int("project", project), zap.Int("job", job))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// jobStdout returns the job's log lines oldest first. The API returns them
// newest first.
func (c *Client) jobStdout(ctx context.Context, project, job int) ([]string, error) {
	var resp jobStdoutResponse
	if err := c.getJSON(ctx, jobPath(project, job, "/stdout"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]string, len(resp.Stdout))
	for i, entry := range resp.Stdout {
		out[len(out)-1-i] = entry.Data
	}
	return out, nil
}

func projectPath(project int, suffix string) string {
	return "/" + strconv.Itoa(project) + suffix
}

func jobPath(project, job int, suffix string) string {
	return projectPath(project, "/jobs/"+strconv.Itoa(job)+suffix)
}
