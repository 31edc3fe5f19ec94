package studio

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// BuildOptions selects which library variant to fetch.
type BuildOptions struct {
	Engine     string // EngineEON or EngineTFLite
	ModelType  string // ModelInt8 or ModelFloat32
	ForceBuild bool
}

// Artifact is a downloaded library archive.
type Artifact struct {
	Project  int
	Filename string
	Data     []byte
}

// FetchArchive downloads the most recent library build. The filename comes
// from the Content-Disposition header.
func (c *Client) FetchArchive(ctx context.Context, project int, engine, modelType string) (string, []byte, error) {
	q := url.Values{"type": {"zip"}, "modelType": {modelType}, "engine": {engine}}
	resp, err := c.do(ctx, http.MethodGet, projectPath(project, "/deployment/download"), q, nil, "application/zip")
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, &APIError{Status: resp.StatusCode, Message: string(msg)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("studio: read archive: %w", err)
	}
	return attachmentName(resp.Header.Get("Content-Disposition"), project), data, nil
}

func attachmentName(disposition string, project int) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	return "ei-project-" + strconv.Itoa(project) + ".zip"
}

// Download fetches the library for project, building it first when forced or
// when no prebuilt artifact exists. Build logs go to logs.
func (c *Client) Download(ctx context.Context, project int, opts BuildOptions, logs io.Writer) (*Artifact, error) {
	build := opts.ForceBuild
	if !build {
		ok, err := c.HasPrebuiltArtifact(ctx, project, opts.Engine, opts.ModelType)
		if err != nil {
			return nil, err
		}
		build = !ok
	}

	if build {
		c.logger.Info("building library", zap.Int("project", project), zap.String("engine", opts.Engine), zap.String("model_type", opts.ModelType))
		job, err := c.TriggerBuild(ctx, project, opts.Engine, opts.ModelType)
		if err != nil {
			return nil, err
		}
		if err := c.AwaitJob(ctx, project, job, logs); err != nil {
			return nil, err
		}
		c.logger.Info("build finished", zap.Int("project", project), zap.Int("job", job))
	}

	name, data, err := c.FetchArchive(ctx, project, opts.Engine, opts.ModelType)
	if err != nil {
		return nil, err
	}
	return &Artifact{Project: project, Filename: name, Data: data}, nil
}
