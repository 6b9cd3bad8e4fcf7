package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/formatter"
	"github.com/desertthunder/postmate/internal/platform"
	"github.com/desertthunder/postmate/internal/repositories"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and services are opened lazily on first use so commands such as `setup config`
// work without a database.
type Runner struct {
	config     *shared.Config
	configPath string
	factory    platform.Factory
	httpClient *http.Client
	logger     *log.Logger
	input      io.Reader
	output     io.Writer

	mu       sync.Mutex
	db       *sqlx.DB
	accounts *repositories.AccountRepository
	proxies  *repositories.ProxyRepository
	tasks    *repositories.TaskRepository
	sessions *session.Manager
	executor *tasks.Executor
	admin    *admin.Service
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Factory    platform.Factory // Defaults to the HTTP sidecar client from [shared.PlatformConfig]
	HTTPClient *http.Client
	Logger     *log.Logger
	Input      io.Reader // Defaults to [os.Stdin]
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
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Platform.Timeout.Duration}
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		factory:    opts.Factory,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		input:      opts.Input,
		output:     opts.Output,
	}
}

// SetLogger replaces the logger used by commands and by services opened afterwards.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, accountCommand, proxyCommand, taskCommand, workerCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// service opens the database and builds the admin service once.
func (r *Runner) service() (*admin.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admin != nil {
		return r.admin, nil
	}

	cfg := r.config
	db, err := shared.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, cfg.Database.Path, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	factory := r.factory
	if factory == nil {
		factory = platform.NewHTTPFactory(cfg.Platform.BaseURL, r.httpClient)
	}

	r.db = db
	r.accounts = repositories.NewAccountRepository(db)
	r.proxies = repositories.NewProxyRepository(db)
	r.tasks = repositories.NewTaskRepository(db)
	r.sessions = session.NewManager(session.ManagerOpts{
		Accounts: r.accounts,
		Proxies:  r.proxies,
		Store:    session.NewStore(cfg.Storage.SessionsDir, r.accounts, r.logger),
		Factory:  factory,
		Logger:   r.logger,
	})
	r.executor = tasks.NewExecutor(tasks.ExecutorOpts{
		Tasks:    r.tasks,
		Sessions: r.sessions,
		Limiter:  r.publishLimiter(),
		Logger:   r.logger,
	})
	r.admin = admin.New(admin.Opts{
		Accounts:    r.accounts,
		Proxies:     r.proxies,
		Tasks:       r.tasks,
		Sessions:    r.sessions,
		Executor:    r.executor,
		MediaDir:    cfg.Storage.MediaDir,
		Concurrency: cfg.Worker.Concurrency,
		Logger:      r.logger,
	})
	return r.admin, nil
}

// publishLimiter throttles publishes across all workers; a zero rate disables throttling.
func (r *Runner) publishLimiter() *rate.Limiter {
	p := r.config.Platform
	if p.PublishRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.PublishRate), max(p.PublishBurst, 1))
}

// Close logs out cached sessions and closes the database.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	r.sessions.Close(context.Background())
	err := r.db.Close()
	r.db, r.admin = nil, nil
	return err
}

// render writes v in the format selected by the --json and --format flags,
// to the --output file when one is given.
func (r *Runner) render(cmd *cli.Command, v any) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	if cmd.Bool("json") {
		f = formatter.FormatJSON
	}

	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteFile(f, v, path); err != nil {
			return err
		}
		r.writePlain("✓ Wrote %s\n", path)
		return nil
	}

	if f == formatter.FormatJSON {
		return r.writeJSON(v, true)
	}
	data, err := formatter.Render(f, v)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
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

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
