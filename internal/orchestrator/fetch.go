package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/studio"
)

// Source is the part of the Studio client the Fetcher needs.
type Source interface {
	ResolveDefaultProject(ctx context.Context) (int, error)
	Download(ctx context.Context, project int, opts studio.BuildOptions, logs io.Writer) (*studio.Artifact, error)
}

// SourceFactory returns a Source authenticated with apiKey.
type SourceFactory func(apiKey string) Source

// StudioSources builds Sources backed by the Studio REST client.
func StudioSources(opts ...studio.Option) SourceFactory {
	return func(apiKey string) Source {
		return studio.NewClient(apiKey, opts...)
	}
}

// Credential selects one impulse to download.
type Credential struct {
	APIKey    string
	Quantized bool
}

// Fetcher downloads and extracts the library of every credential's project
// in parallel. If any download fails the derived context is canceled so the
// remaining builds are abandoned promptly.
type Fetcher struct {
	newSource  SourceFactory
	tmpDir     string
	engine     Engine
	forceBuild bool
	logger     *zap.Logger
	onProgress func(ProgressEvent)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	TmpDir     string
	Engine     Engine
	ForceBuild bool
}

// NewFetcher creates a Fetcher. onProgress may be nil.
func NewFetcher(cfg FetcherConfig, newSource SourceFactory, logger *zap.Logger, onProgress func(ProgressEvent)) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		newSource:  newSource,
		tmpDir:     cfg.TmpDir,
		engine:     cfg.Engine,
		forceBuild: cfg.ForceBuild,
		logger:     logger,
		onProgress: onProgress,
	}
}

// ValidateCredentials rejects empty and duplicate API keys and a
// quantization map that does not match them one to one.
func ValidateCredentials(keys []string, quantized []bool) ([]Credential, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: --api-keys is required", ErrInvalidConfig)
	}
	if len(quantized) != len(keys) {
		return nil, fmt.Errorf("%w: quantization map has %d entries for %d api keys", ErrInvalidConfig, len(quantized), len(keys))
	}
	seen := make(map[string]bool, len(keys))
	out := make([]Credential, len(keys))
	for i, k := range keys {
		if seen[k] {
			return nil, fmt.Errorf("%w: duplicate projects detected, provide unique api keys", ErrInvalidConfig)
		}
		seen[k] = true
		out[i] = Credential{APIKey: k, Quantized: quantized[i]}
	}
	return out, nil
}

// Fetch resolves each credential's project, downloads its library and
// extracts it to <tmpDir>/<projectID>. Impulses are returned in credential
// order.
func (f *Fetcher) Fetch(ctx context.Context, creds []Credential) ([]Impulse, error) {
	sources := make([]Source, len(creds))
	projects := make([]int, len(creds))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range creds {
		sources[i] = f.newSource(c.APIKey)
		g.Go(func() error {
			id, err := sources[i].ResolveDefaultProject(gctx)
			if err != nil {
				return fmt.Errorf("fetch: resolve project for key #%d: %w", i+1, err)
			}
			projects[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, len(projects))
	seen := make(map[int]bool, len(projects))
	for i, id := range projects {
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate project id %d", ErrInvalidConfig, id)
		}
		seen[id] = true
		ids[i] = strconv.Itoa(id)
	}

	impulses := LocalImpulses(f.tmpDir, ids)

	g, gctx = errgroup.WithContext(ctx)
	for i, c := range creds {
		imp := impulses[i]
		g.Go(func() error {
			f.emit(ProgressEvent{Step: StepPreflight, Impulse: imp.ID, Status: ProgressWorking, Message: "download"})
			if err := f.fetchOne(gctx, sources[i], projects[i], c, imp.Root); err != nil {
				f.emit(ProgressEvent{Step: StepPreflight, Impulse: imp.ID, Status: ProgressFailed, Message: err.Error()})
				return err
			}
			f.emit(ProgressEvent{Step: StepPreflight, Impulse: imp.ID, Status: ProgressComplete, Message: "download"})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return impulses, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source, project int, c Credential, root string) error {
	log := f.logger.With(zap.Int("project", project))
	logs := &zapio.Writer{Log: log, Level: zapcore.DebugLevel}
	defer logs.Close()

	opts := studio.BuildOptions{
		Engine:     f.engine.StudioName(),
		ModelType:  ModelType(c.Quantized),
		ForceBuild: f.forceBuild,
	}
	art, err := src.Download(ctx, project, opts, logs)
	if err != nil {
		return fmt.Errorf("fetch: project %d: %w", project, err)
	}
	log.Info("library downloaded", zap.String("file", art.Filename), zap.Int("bytes", len(art.Data)))

	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if err := archive.ExtractBytes(art.Data, root); err != nil {
		return fmt.Errorf("fetch: project %d: %w", project, err)
	}
	log.Debug("library extracted", zap.String("dir", filepath.Clean(root)))
	return nil
}

func (f *Fetcher) emit(ev ProgressEvent) {
	if f.onProgress != nil {
		f.onProgress(ev)
	}
}
