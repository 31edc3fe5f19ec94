package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dusk-indust/impulsemerge/internal/config"
	"github.com/dusk-indust/impulsemerge/internal/orchestrator"
	"github.com/dusk-indust/impulsemerge/internal/publish"
	"github.com/dusk-indust/impulsemerge/internal/studio"
)

// defaultOutDirectory is where the transformation block expects its output.
const defaultOutDirectory = "/home/output"

// CLI flags of the merge command.
type mergeFlags struct {
	ConfigPath      string
	APIKeys         string
	Projects        string
	TmpDirectory    string
	OutDirectory    string
	ForceBuild      bool
	Engine          string
	QuantizationMap string
	FullTFLite      bool
	DriverTemplate  string
	Publish         bool
}

var _ orchestrator.Publisher = (*publish.S3Publisher)(nil)

func newMergeCmd(a *app) *cobra.Command {
	var flags mergeFlags

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Download (or read) impulse libraries and merge them",
		Example: `  impulsemerge merge --api-keys ei_a,ei_b --quantization-map 1,0 --engine tflite
  impulsemerge merge --projects 100,200 --tmp-directory ./libs --out-directory ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			flags.resolve(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.runMerge(ctx, flags, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.ConfigPath, "config", "", "config file (default: impulsemerge.yml in the working directory)")
	f.StringVar(&flags.APIKeys, "api-keys", "", "comma separated Studio API keys, one per project; the first project is the base")
	f.StringVar(&flags.Projects, "projects", "", "comma separated project ids already extracted under --tmp-directory (skips downloading)")
	f.StringVar(&flags.TmpDirectory, "tmp-directory", "", "directory the libraries are extracted to")
	f.StringVar(&flags.OutDirectory, "out-directory", defaultOutDirectory, "directory receiving the merged tree, deploy.zip and the report")
	f.BoolVar(&flags.ForceBuild, "force-build", false, "always build libraries instead of using prebuilt artifacts")
	f.StringVar(&flags.Engine, "engine", string(orchestrator.EngineEON), "inferencing engine: eon or tflite")
	f.StringVar(&flags.QuantizationMap, "quantization-map", "", "comma separated quantization per API key: 0 for float32, 1 for int8")
	f.BoolVar(&flags.FullTFLite, "full-tflite", false, "switch the merged library to full TensorFlow Lite (requires --engine tflite)")
	f.StringVar(&flags.DriverTemplate, "driver-template", "", "driver template overriding the embedded one")
	f.BoolVar(&flags.Publish, "publish", false, "upload deploy.zip to the configured artifact bucket")
	return cmd
}

func loadConfig(path string) (*config.ProjectConfig, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(".")
}

// resolve fills flags the user did not set from the config file and
// environment.
func (f *mergeFlags) resolve(cmd *cobra.Command, cfg *config.ProjectConfig) {
	set := cmd.Flags().Changed
	if !set("api-keys") && len(cfg.APIKeys) > 0 {
		f.APIKeys = strings.Join(cfg.APIKeys, ",")
	}
	if !set("quantization-map") && cfg.QuantizationMap != "" {
		f.QuantizationMap = cfg.QuantizationMap
	}
	if !set("engine") && cfg.Engine != "" {
		f.Engine = cfg.Engine
	}
	if !set("tmp-directory") && cfg.TmpDirectory != "" {
		f.TmpDirectory = cfg.TmpDirectory
	}
	if !set("out-directory") && cfg.OutDirectory != "" {
		f.OutDirectory = cfg.OutDirectory
	}
	if !set("driver-template") && cfg.DriverTemplate != "" {
		f.DriverTemplate = cfg.DriverTemplate
	}
	f.ForceBuild = f.ForceBuild || cfg.ForceBuild
	f.FullTFLite = f.FullTFLite || cfg.FullTFLite
}

// localMode reports whether the libraries are already extracted.
func (f mergeFlags) localMode() bool {
	return f.Projects != "" && f.TmpDirectory != ""
}

func (a *app) runMerge(ctx context.Context, flags mergeFlags, cfg *config.ProjectConfig) error {
	engine, err := orchestrator.ParseEngine(flags.Engine)
	if err != nil {
		return err
	}
	if flags.FullTFLite && engine != orchestrator.EngineTFLite {
		return fmt.Errorf("%w: --full-tflite requires --engine tflite", orchestrator.ErrInvalidConfig)
	}

	var publisher orchestrator.Publisher
	if flags.Publish {
		pub, err := publish.NewS3Publisher(cfg.Artifact, a.logger)
		if err != nil {
			return err
		}
		publisher = pub
	}

	impulses, cleanup, err := a.impulses(ctx, flags, cfg, engine)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []orchestrator.Option{orchestrator.WithLogger(a.logger)}
	if publisher != nil {
		opts = append(opts, orchestrator.WithPublisher(publisher))
	}
	p := orchestrator.NewPipeline(orchestrator.Config{
		Impulses:       impulses,
		OutDir:         flags.OutDirectory,
		Engine:         engine,
		FullTFLite:     flags.FullTFLite,
		DriverTemplate: flags.DriverTemplate,
	}, opts...)

	fmt.Fprintln(a.out, orchestrator.FormatRunHeader(p.Config()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range p.Progress() {
			fmt.Fprintln(a.out, orchestrator.FormatProgress(ev))
		}
	}()

	res, err := p.Run(ctx)
	p.Close()
	<-done
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "\nmerged %d impulses into %s\n", len(impulses), res.TargetDir)
	fmt.Fprintf(a.out, "archive: %s\n", res.Archive)
	if res.Report.Published != "" {
		fmt.Fprintf(a.out, "published: %s\n", res.Report.Published)
	}
	if n := len(res.Report.Warnings); n > 0 {
		fmt.Fprintf(a.out, "%d warnings, see %s\n", n, p.Config().ReportPath())
	}
	return nil
}

// impulses returns the impulse trees to merge, downloading them unless the
// command runs in local mode. cleanup removes a temporary download directory.
func (a *app) impulses(ctx context.Context, flags mergeFlags, cfg *config.ProjectConfig, engine orchestrator.Engine) ([]orchestrator.Impulse, func(), error) {
	noop := func() {}
	if flags.localMode() {
		a.logger.Info("using local libraries", zap.String("dir", flags.TmpDirectory))
		return orchestrator.LocalImpulses(flags.TmpDirectory, orchestrator.SplitList(flags.Projects)), noop, nil
	}

	creds, err := orchestrator.ValidateCredentials(
		orchestrator.SplitList(flags.APIKeys),
		orchestrator.ParseQuantizationMap(flags.QuantizationMap),
	)
	if err != nil {
		return nil, noop, err
	}

	tmp, cleanup := flags.TmpDirectory, noop
	if tmp == "" {
		dir, err := os.MkdirTemp("", "impulsemerge-*")
		if err != nil {
			return nil, noop, err
		}
		tmp, cleanup = dir, func() { os.RemoveAll(dir) }
	}

	studioOpts := []studio.Option{studio.WithLogger(a.logger)}
	if cfg.StudioURL != "" {
		studioOpts = append(studioOpts, studio.WithBaseURL(cfg.StudioURL))
	}
	// Downloads run in parallel and report from their own goroutines.
	var mu sync.Mutex
	fetcher := orchestrator.NewFetcher(orchestrator.FetcherConfig{
		TmpDir:     tmp,
		Engine:     engine,
		ForceBuild: flags.ForceBuild,
	}, orchestrator.StudioSources(studioOpts...), a.logger, func(ev orchestrator.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(a.out, orchestrator.FormatProgress(ev))
	})

	impulses, err := fetcher.Fetch(ctx, creds)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return impulses, cleanup, nil
}
