// Command picam drives a camera session from the command line.
//
//	picam [flags] [serve|still|video|status]
//
// serve (the default) exposes the HTTP API until interrupted. still and
// video take one capture and write it to --output, or upload it to the
// configured storage backend with --store.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kbukum/mmalkit/camera"
	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/config"
	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal/sim"
	"github.com/kbukum/mmalkit/handlers"
	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/observability"
	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/server"
	"github.com/kbukum/mmalkit/server/endpoint"
	"github.com/kbukum/mmalkit/sse"
	"github.com/kbukum/mmalkit/storage"
	_ "github.com/kbukum/mmalkit/storage/local"
	_ "github.com/kbukum/mmalkit/storage/s3"
	"github.com/kbukum/mmalkit/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

type options struct {
	configFile  string
	envFile     string
	output      string
	frames      int
	store       bool
	showVersion bool
}

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"camera.width":          "width",
	"camera.height":         "height",
	"camera.still.encoding": "encoding",
	"camera.video.encoding": "video-encoding",
	"camera.link":           "link",
	"server.port":           "port",
	"logging.level":         "log-level",
	"environment":           "env",
}

func parseFlags(args []string, v *viper.Viper) (options, []string, error) {
	var o options
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVarP(&o.configFile, "config", "c", "", "config file (default picam.yml in . or ./config)")
	fs.StringVar(&o.envFile, "env-file", "", "dotenv file loaded before the environment is read")
	fs.StringVarP(&o.output, "output", "o", "", "capture destination, - for stdout (default <kind><ext>)")
	fs.IntVarP(&o.frames, "frames", "n", 30, "frames to record with video")
	fs.BoolVar(&o.store, "store", false, "upload captures to the storage backend")
	fs.BoolVar(&o.showVersion, "version", false, "print the version and exit")

	fs.Int("width", 0, "capture width")
	fs.Int("height", 0, "capture height")
	fs.String("encoding", "", "still encoding (jpeg, png, bmp, gif)")
	fs.String("video-encoding", "", "video encoding (h264, mjpeg)")
	fs.String("link", "", "encoder links (tunnelled, intercepted)")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("log-level", "", "log level")
	fs.String("env", "", "deployment environment")

	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return o, nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return o, fs.Args(), nil
}

func run(args []string) error {
	v := viper.New()
	o, rest, err := parseFlags(args, v)
	if stderrors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Println(version.Get().Banner(serviceName))
		return nil
	}

	cmd := "serve"
	if len(rest) > 0 {
		cmd = rest[0]
	}
	switch cmd {
	case "serve", "still", "video", "status":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if o.frames < 1 {
		return errors.InvalidInput("frames", "must be at least 1")
	}

	cfg, err := loadConfig(v, o)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging)
	log := logger.Get(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := initTelemetry(ctx, &cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", logger.ErrorFields("shutdown", err))
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Error("shutdown failed", logger.ErrorFields("close", err))
		}
	}()

	switch cmd {
	case "still":
		return a.capture(ctx, camera.KindStill, o)
	case "video":
		return a.capture(ctx, camera.KindVideo, o)
	case "status":
		return a.status(ctx)
	}
	return a.serve(ctx)
}

func loadConfig(v *viper.Viper, o options) (Config, error) {
	var cfg Config
	opts := []config.LoaderOption{config.WithViper(v)}
	if o.configFile != "" {
		opts = append(opts, config.WithConfigFile(o.configFile))
	}
	if o.envFile != "" {
		opts = append(opts, config.WithEnvFile(o.envFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if o.output == "-" {
		cfg.Logging.Output = "stderr"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// initTelemetry installs the OTLP providers that are enabled and returns a
// func that flushes and shuts them down.
func initTelemetry(ctx context.Context, cfg *Config) (func(context.Context) error, error) {
	var shutdowns []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var err error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			err = stderrors.Join(err, shutdowns[i](ctx))
		}
		return err
	}
	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracer(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		shutdowns = append(shutdowns, tp.Shutdown)
	}
	if cfg.Metrics.Enabled {
		mp, err := observability.InitMeter(ctx, &cfg.Metrics)
		if err != nil {
			_ = closeAll(ctx)
			return nil, fmt.Errorf("metrics: %w", err)
		}
		shutdowns = append(shutdowns, mp.Shutdown)
	}
	return closeAll, nil
}

type app struct {
	cfg      Config
	log      *logger.Logger
	host     *sim.Host
	registry *component.Registry
	events   *sse.Component
	store    *storage.Component
	cam      *camera.Session
	srv      *server.Server
}

func newApp(ctx context.Context, cfg Config, log *logger.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		registry: component.NewRegistry().WithLogger(log),
		events:   sse.NewComponent(log),
		store:    storage.NewComponent(cfg.Storage, log),
	}
	simOpts := []sim.Option{sim.WithLogger(log), sim.WithFrameInterval(cfg.Sim.FrameInterval)}
	if cfg.Sim.BufferWait > 0 {
		simOpts = append(simOpts, sim.WithBufferWait(cfg.Sim.BufferWait))
	}
	a.host = sim.NewHost(simOpts...)

	cam, err := camera.Open(a.host, cfg.Camera,
		camera.WithLogger(log),
		camera.WithMetrics(observability.DefaultPipelineMetrics()),
		camera.WithEvents(a.events.Hub()),
	)
	if err != nil {
		return nil, err
	}
	a.cam = cam

	for _, c := range []component.Component{a.events, a.store, a.cam} {
		if err := a.registry.Register(c); err != nil {
			_ = cam.Close(ctx)
			return nil, err
		}
	}
	log.Info(version.Get().Banner(serviceName), logger.Fields(
		logger.FieldSessionID, cam.ID(),
		"engine", a.host.Name(),
		"environment", cfg.Environment,
	))
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	if err := a.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := a.registry.StopAll(ctx)
	return stderrors.Join(err, a.cam.Close(ctx))
}

func (a *app) serve(ctx context.Context) error {
	a.srv = server.New(a.cfg.Server, a.log)
	a.srv.Mount(server.API{
		Service: a.cfg.Name,
		Version: version.Get().String(),
		Engine:  a.host.Name(),
		Health:  a.registry.HealthAll,
		Camera: endpoint.NewCaptures(a.cam, a.cfg.Server.Captures,
			endpoint.WithCapturesLogger(a.log),
			endpoint.WithStorage(a.store.Storage, resilience.DefaultRetryConfig()),
		),
		Events: a.events.Hub(),
	})
	if err := a.registry.Register(server.NewComponent(a.srv)); err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		return err
	}
	for _, r := range a.srv.Routes() {
		a.log.Debug("route", logger.Fields("method", r.Method, "path", r.Path, "handler", r.Handler))
	}
	a.log.Info("serving", logger.Fields("addr", a.srv.Addr()))
	<-ctx.Done()
	a.log.Info("shutting down")
	return nil
}

func (a *app) capture(ctx context.Context, kind string, o options) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	encoding := a.cfg.Camera.Still.Encoding
	if kind == camera.KindVideo {
		encoding = a.cfg.Camera.Video.Encoding
	}
	_, ext := endpoint.MediaType(encoding)

	h, err := a.handler(ctx, kind, ext, o)
	if err != nil {
		return err
	}
	if kind == camera.KindVideo {
		err = a.cam.CaptureVideo(ctx, o.frames, h)
	} else {
		err = a.cam.TakePicture(ctx, h)
	}
	if cerr := h.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fields := logger.Fields("kind", kind, "encoding", encoding)
	switch out := h.(type) {
	case *handlers.Store:
		fields["keys"] = out.Keys()
		fields["bytes"] = out.Size()
	case *handlers.Stream:
		fields["path"] = out.Path()
		fields["bytes"] = out.Written()
	}
	a.log.Info("capture written", fields)
	return nil
}

func (a *app) handler(ctx context.Context, kind, ext string, o options) (handlers.Handler, error) {
	if o.store {
		st := a.store.Storage()
		if st == nil {
			return nil, errors.Unavailable("storage")
		}
		return handlers.NewStore(ctx, st, handlers.SequentialNames(kind+"/", ext),
			handlers.WithRetry(resilience.DefaultRetryConfig()),
			handlers.WithStoreLogger(a.log),
		), nil
	}
	switch o.output {
	case "-":
		return handlers.NewStream(os.Stdout), nil
	case "":
		return handlers.NewFile(kind + ext)
	}
	return handlers.NewFile(o.output)
}

type statusReport struct {
	Version version.Info       `json:"version"`
	Camera  camera.Stats       `json:"camera"`
	Health  []component.Health `json:"health"`
}

func (a *app) status(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(statusReport{
		Version: version.Get(),
		Camera:  a.cam.Stats(),
		Health:  a.registry.HealthAll(ctx),
	})
}
