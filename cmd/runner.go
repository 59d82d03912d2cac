package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/services"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	remote     services.RemoteTree
	assets     services.AssetTransfer
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Remote and Assets replace the Notion-backed implementations, mainly in tests.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Remote     services.RemoteTree
	Assets     services.AssetTransfer
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		remote:     opts.Remote,
		assets:     opts.Assets,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, dumpCommand, dumpDatabaseCommand, migrateCommand, dumpsCommand, jobsCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and everything it builds afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// loadConfig is the root Before hook: it reads --config when the file exists and
// otherwise keeps the defaults with environment overrides applied.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	r.configPath = path

	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.config.ApplyEnv(os.LookupEnv)
		r.config.Schedule.PageIDs = shared.MergeUnique(r.config.Schedule.PageIDs)
		if err := r.config.Validate(); err != nil {
			return ctx, err
		}
	}

	if cmd.Bool("verbose") {
		r.logger.SetLevel(log.DebugLevel)
	} else {
		shared.SetLogLevel(r.logger, r.config.Log.Level)
	}
	return ctx, nil
}

// services returns the remote tree and asset transfer, building the Notion client on first use.
func (r *Runner) services() (services.RemoteTree, services.AssetTransfer, error) {
	if r.remote != nil && r.assets != nil {
		return r.remote, r.assets, nil
	}
	if r.config.Notion.Token == "" {
		return nil, nil, fmt.Errorf("%w: set notion.token or NOTION_TOKEN", shared.ErrMissingCredentials)
	}

	client := services.NewNotionClient(services.NotionOpts{
		BaseURL:    r.config.Notion.BaseURL,
		Token:      r.config.Notion.Token,
		Version:    r.config.Notion.Version,
		Timeout:    r.config.Notion.Timeout(),
		MaxRetries: r.config.Notion.MaxRetries,
		RateLimit:  r.config.Notion.RateLimit,
		Logger:     r.logger,
	})
	if r.remote == nil {
		r.remote = client
	}
	if r.assets == nil {
		r.assets = services.NewAssetTransfer(client, r.config.Storage.MaxAssetBytes())
	}
	return r.remote, r.assets, nil
}

// engines builds the snapshot and materialization engines over [Runner.services].
func (r *Runner) engines() (*tasks.SnapshotEngine, *tasks.MaterializeEngine, error) {
	remote, assets, err := r.services()
	if err != nil {
		return nil, nil, err
	}
	snapshot := tasks.NewSnapshotEngine(remote, assets, tasks.SnapshotOpts{
		DumpRoot:         r.config.Storage.DumpRoot,
		AssetConcurrency: r.config.Storage.AssetConcurrency,
		Logger:           r.logger,
	})
	materialize := tasks.NewMaterializeEngine(remote, assets, tasks.MaterializeOpts{Logger: r.logger})
	return snapshot, materialize, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
