package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/authflow"
	"github.com/desertthunder/aria/internal/generation"
	"github.com/desertthunder/aria/internal/orchestrator"
	"github.com/desertthunder/aria/internal/repositories"
	"github.com/desertthunder/aria/internal/server"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
	"github.com/desertthunder/aria/internal/tasks"
	"github.com/urfave/cli/v3"
)

// sessionCookieKey is where the backend session cookie is kept between runs.
const sessionCookieKey = "aria.session_cookie"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	services   server.ServiceFactory
	generator  tasks.Generator
	opener     func(ctx context.Context, out io.Writer) authflow.Opener
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer

	// Services builds the Spotify client used by the embedded backend. Defaults to the configured credentials.
	Services server.ServiceFactory
	// Generator defaults to a [tasks.Agent] when an OpenAI key is configured, else a [tasks.PlaylistEngine].
	Generator tasks.Generator
	// Opener defaults to the system browser.
	Opener func(ctx context.Context, out io.Writer) authflow.Opener
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
	if opts.HTTPClient == nil {
		jar, _ := cookiejar.New(nil)
		opts.HTTPClient = &http.Client{Jar: jar, Timeout: 2 * time.Minute}
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		services:   opts.Services,
		generator:  opts.Generator,
		opener:     opts.Opener,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, generateCommand, resumeCommand, statusCommand, authCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads the config file named by --config, if present, then applies the environment.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
		r.configPath = path
	} else {
		r.logger.Debug("Config file not found, using defaults", "path", path)
	}

	r.config.ApplyEnv(os.Getenv)
	return ctx, nil
}

func (r *Runner) newService() (services.OAuthService, error) {
	if r.services != nil {
		return r.services()
	}
	return services.NewSpotifyServiceFromConfig(r.config.Credentials.Spotify)
}

// engine returns the generator: the OpenAI agent when a key is configured, the keyword engine otherwise.
func (r *Runner) engine() tasks.Generator {
	if r.generator != nil {
		return r.generator
	}

	if openai := r.config.OpenAI; openai.Enabled() {
		r.logger.Debug("Using OpenAI agent", "model", openai.Model)
		r.generator = tasks.NewAgent(tasks.AgentOpts{
			Chat:      services.NewChatClientFromConfig(openai),
			MaxTracks: r.config.Generator.MaxTracks,
			MaxSteps:  openai.MaxSteps,
			RateLimit: r.config.Generator.RateLimit,
			Logger:    shared.WithLogger(r.logger, "component", "agent"),
		})
		return r.generator
	}

	r.generator = tasks.NewPlaylistEngine(tasks.EngineOpts{
		MaxTracks: r.config.Generator.MaxTracks,
		RateLimit: r.config.Generator.RateLimit,
		Logger:    shared.WithLogger(r.logger, "component", "engine"),
	})
	return r.generator
}

// env is what one command invocation shares between the controller and the embedded backend.
type env struct {
	db    *sql.DB
	store authflow.Store
	bus   authflow.Bus
	oauth *server.OAuthHandler
}

// openEnv opens the database and the auth store.
//
// The bus only exists when the backend runs in this process; otherwise outcomes travel through the store.
func (r *Runner) openEnv(embedded bool) (*env, func(), error) {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open database: %w", err)
	}

	e := &env{db: db}
	switch r.config.Client.Storage {
	case "memory":
		e.store = authflow.NewMemoryStore()
	default:
		e.store = repositories.NewStorageRepository(db, r.config.Client.PollInterval/3, shared.WithLogger(r.logger, "component", "storage"))
	}
	if embedded {
		e.bus = authflow.NewMemoryBus()
	}

	return e, func() { db.Close() }, nil
}

// backendClient returns a client for the backend carrying the session cookie from the last run.
func (r *Runner) backendClient(store authflow.Store) (*generation.Client, func()) {
	base, err := url.Parse(r.config.Client.BaseURL)
	if err != nil || r.httpClient.Jar == nil {
		r.logger.Warn("Session cookie will not persist", "base_url", r.config.Client.BaseURL)
		return generation.NewClient(services.NewAPIService(r.config.Client.BaseURL, r.httpClient), r.logger), func() {}
	}

	if value, ok, err := store.Get(sessionCookieKey); err != nil {
		r.logger.Warn("Failed to load session cookie", "error", err)
	} else if ok {
		r.httpClient.Jar.SetCookies(base, []*http.Cookie{{Name: server.SessionCookie, Value: value, Path: "/"}})
	}

	save := func() {
		for _, c := range r.httpClient.Jar.Cookies(base) {
			if c.Name != server.SessionCookie {
				continue
			}
			if err := store.Set(sessionCookieKey, c.Value); err != nil {
				r.logger.Warn("Failed to save session cookie", "error", err)
			}
		}
	}

	api := services.NewAPIService(r.config.Client.BaseURL, r.httpClient)
	return generation.NewClient(api, shared.WithLogger(r.logger, "component", "client")), save
}

// controller fetches the initial payload and builds a controller for one "page load".
func (r *Runner) controller(ctx context.Context, client *generation.Client, e *env, presenter orchestrator.Presenter, out io.Writer, timeout time.Duration) (*orchestrator.Controller, error) {
	payload, err := client.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend not reachable at %s: %w", r.config.Client.BaseURL, err)
	}

	var opener authflow.Opener
	if r.opener != nil {
		opener = r.opener(ctx, out)
	} else {
		opener = authflow.NewBrowserOpener(ctx, out, r.logger)
	}

	waiter := authflow.NewWaiter(authflow.WaiterOpts{
		Store:        e.store,
		Bus:          e.bus,
		Opener:       opener,
		Origin:       r.config.Client.Origin,
		Logger:       shared.WithLogger(r.logger, "component", "waiter"),
		PollInterval: r.config.Client.PollInterval,
		Timeout:      timeout,
	})

	return orchestrator.New(orchestrator.Opts{
		Backend:          client,
		Authorizer:       waiter,
		Presenter:        presenter,
		Init:             *payload,
		Logger:           shared.WithLogger(r.logger, "component", "controller"),
		RotationInterval: r.config.Client.RotationInterval,
	}), nil
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
