package camera

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/handlers"
	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/mmal"
	"github.com/kbukum/mmalkit/observability"
	"github.com/kbukum/mmalkit/pipeline"
	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/sse"
)

// Stage names inside the session pipeline.
const (
	StageCamera = "camera"
	StageImage  = "image_encoder"
	StageVideo  = "video_encoder"
	StageSink   = "null_sink"
)

// Capture kinds.
const (
	KindStill = "still"
	KindVideo = "video"
)

// One session per host may be open at a time.
var (
	openMu    sync.Mutex
	openHosts = make(map[hal.Host]struct{})
)

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics records buffer circulation and capture durations on m.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEvents publishes pipeline and capture events to p.
func WithEvents(p sse.Publisher) Option {
	return func(s *Session) { s.events = p }
}

// WithInterceptor installs fn on the still and video links when the
// session runs with intercepted links.
func WithInterceptor(fn mmal.Interceptor) Option {
	return func(s *Session) { s.intercept = fn }
}

type counters struct {
	stills     atomic.Uint64
	videos     atomic.Uint64
	failures   atomic.Uint64
	recoveries atomic.Uint64
}

// Session is an open camera with its encoders.
type Session struct {
	id        uuid.UUID
	host      hal.Host
	cfg       Config
	log       *logger.Logger
	metrics   *observability.PipelineMetrics
	events    sse.Publisher
	intercept mmal.Interceptor
	breaker   *resilience.CircuitBreaker

	pipe                    *pipeline.Pipeline
	cam, image, video, null *mmal.Component
	stills, clips           sink

	// mu serializes captures, Apply and Close.
	mu       sync.Mutex
	closed   atomic.Bool
	settings atomic.Pointer[Settings]
	counts   counters
}

var _ component.Component = (*Session)(nil)

// Open initializes host, builds the camera pipeline and enables it.
func Open(host hal.Host, cfg Config, opts ...Option) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:     uuid.New(),
		host:   host,
		cfg:    cfg,
		log:    logger.Get("camera"),
		events: sse.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logger.Fields(logger.FieldSessionID, s.id.String()))
	s.settings.Store(&cfg.Settings)
	s.breaker = resilience.NewCircuitBreaker(s.breakerConfig())
	s.cfg.Recovery.RetryIf = recoverable

	openMu.Lock()
	if _, busy := openHosts[host]; busy {
		openMu.Unlock()
		return nil, errors.Conflict(fmt.Sprintf("host %s already has an open camera session", host.Name()))
	}
	openHosts[host] = struct{}{}
	openMu.Unlock()

	if err := host.Init(); err != nil {
		s.release()
		return nil, errors.ComponentState(host.Name(), "init", err)
	}
	ctx := context.Background()
	err := s.build()
	if err == nil {
		err = s.pipe.Enable(ctx)
	}
	if err != nil {
		if s.pipe != nil {
			_ = s.pipe.Close(ctx)
		}
		_ = host.Deinit()
		s.release()
		s.log.Error("open failed", logger.ErrorFields("open", err))
		return nil, err
	}

	s.log.Info("camera session opened", logger.Fields(
		"host", host.Name(), "width", cfg.Width, "height", cfg.Height,
		"still", cfg.Still.Encoding, "video", cfg.Video.Encoding, "link", cfg.Link,
	))
	return s, nil
}

func (s *Session) breakerConfig() resilience.CircuitBreakerConfig {
	bc := s.cfg.Breaker
	if bc.Name == "" {
		bc.Name = "camera"
	}
	if bc.IsFailure == nil {
		bc.IsFailure = countsAgainstBreaker
	}
	if bc.OnStateChange == nil {
		bc.OnStateChange = func(name string, from, to resilience.State) {
			s.log.Warn("capture circuit changed state", logger.Fields("from", from.String(), "to", to.String()))
		}
	}
	return bc
}

func (s *Session) release() {
	openMu.Lock()
	delete(openHosts, s.host)
	openMu.Unlock()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id.String() }

// Config returns the configuration the session was opened with, with the
// current settings.
func (s *Session) Config() Config {
	cfg := s.cfg
	cfg.Settings = s.Settings()
	return cfg
}

// Settings returns the settings currently applied to the camera.
func (s *Session) Settings() Settings { return *s.settings.Load() }

// Pipeline exposes the underlying pipeline.
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipe }

func (s *Session) build() error {
	s.pipe = pipeline.New("camera", pipeline.WithLogger(s.log))

	stages := []struct {
		stage string
		name  string
		dst   **mmal.Component
	}{
		{StageCamera, hal.ComponentCamera, &s.cam},
		{StageImage, hal.ComponentImageEncode, &s.image},
		{StageVideo, hal.ComponentVideoEncode, &s.video},
		{StageSink, hal.ComponentNullSink, &s.null},
	}
	for _, st := range stages {
		c, err := mmal.NewComponent(s.host, st.name,
			mmal.WithLogger(s.log), mmal.WithMetrics(s.metrics), mmal.WithEventHandler(s.onEvent))
		if err != nil {
			return err
		}
		if err := s.pipe.AddStage(st.stage, c); err != nil {
			_ = c.Destroy()
			return err
		}
		*st.dst = c
	}

	if err := s.cam.Configure(s.configureCamera); err != nil {
		return err
	}
	if err := s.image.Configure(s.configureImage); err != nil {
		return err
	}
	if err := s.video.Configure(s.configureVideo); err != nil {
		return err
	}
	if err := s.null.Configure(func(c *mmal.Component) error {
		return c.Input(0).ConfigureFormat(mmal.FormatRequest{From: s.cam.Output(hal.CameraPreviewPort)})
	}); err != nil {
		return err
	}

	mode := s.cfg.linkMode()
	links := []pipeline.Link{
		{From: StageCamera, Output: hal.CameraPreviewPort, To: StageSink, Mode: mmal.Tunnelled},
		{From: StageCamera, Output: hal.CameraStillPort, To: StageImage, Mode: mode, Interceptor: s.intercept},
		{From: StageCamera, Output: hal.CameraVideoPort, To: StageVideo, Mode: mode, Interceptor: s.intercept},
	}
	for _, l := range links {
		if err := s.pipe.Connect(l); err != nil {
			return err
		}
	}
	return s.pipe.Build()
}

func (s *Session) configureCamera(c *mmal.Component) error {
	if err := applySettings(c, s.Settings()); err != nil {
		return err
	}
	for _, idx := range []int{hal.CameraPreviewPort, hal.CameraVideoPort, hal.CameraStillPort} {
		req := mmal.FormatRequest{Encoding: hal.EncodingI420, Width: s.cfg.Width, Height: s.cfg.Height}
		if idx != hal.CameraStillPort {
			req.FrameRate = hal.Rational{Num: s.cfg.Video.FrameRate, Den: 1}
		}
		if err := c.Output(idx).ConfigureFormat(req); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) configureImage(c *mmal.Component) error {
	if err := c.Input(0).ConfigureFormat(mmal.FormatRequest{From: s.cam.Output(hal.CameraStillPort)}); err != nil {
		return err
	}
	err := c.Output(0).ConfigureFormat(mmal.FormatRequest{
		From:       c.Input(0),
		Encoding:   s.cfg.stillEncoding(),
		Quality:    s.cfg.Still.Quality,
		BufferNum:  s.cfg.Buffers.Num,
		BufferSize: s.cfg.Buffers.Size,
	})
	if err != nil {
		return err
	}
	return c.Output(0).SetConsumer(&s.stills)
}

func (s *Session) configureVideo(c *mmal.Component) error {
	if err := c.Input(0).ConfigureFormat(mmal.FormatRequest{From: s.cam.Output(hal.CameraVideoPort)}); err != nil {
		return err
	}
	err := c.Output(0).ConfigureFormat(mmal.FormatRequest{
		From:       c.Input(0),
		Encoding:   s.cfg.videoEncoding(),
		Bitrate:    s.cfg.Video.Bitrate,
		FrameRate:  hal.Rational{Num: s.cfg.Video.FrameRate, Den: 1},
		BufferNum:  s.cfg.Buffers.Num,
		BufferSize: s.cfg.Buffers.Size,
	})
	if err != nil {
		return err
	}
	return c.Output(0).SetConsumer(&s.clips)
}

// applySettings writes every setting to the camera control port. The
// camera must be disabled.
func applySettings(c *mmal.Component, st Settings) error {
	for _, p := range st.params() {
		if err := c.Control().SetParameter(p.id, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) onEvent(ev mmal.Event) {
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	s.publish(ev.Kind.String(), "port:"+ev.Port, msg, map[string]string{"component": ev.Component})
}

func (s *Session) publish(typ, topic, msg string, data map[string]string) {
	s.events.Publish(sse.Event{
		Type:    typ,
		Topic:   topic,
		Session: s.id.String(),
		Message: msg,
		Data:    data,
		Time:    time.Now().UTC(),
	})
}

// TakePicture captures one still and writes the encoded image to h.
func (s *Session) TakePicture(ctx context.Context, h handlers.Handler) error {
	return s.capture(ctx, KindStill, 1, h)
}

// CaptureVideo records frames encoded video frames to h. Stream
// configuration data is passed to h but not counted as a frame.
func (s *Session) CaptureVideo(ctx context.Context, frames int, h handlers.Handler) error {
	if frames < 1 {
		return errors.InvalidInput("frames", fmt.Sprintf("must be positive, got %d", frames))
	}
	return s.capture(ctx, KindVideo, frames, h)
}

func (s *Session) capture(ctx context.Context, kind string, frames int, h handlers.Handler) (err error) {
	if h == nil {
		return errors.InvalidInput("handler", "handler is nil")
	}
	spanName := observability.SpanCaptureStill
	if kind == KindVideo {
		spanName = observability.SpanCaptureVideo
	}
	ctx, span := observability.StartSpan(ctx, spanName, trace.WithAttributes(
		attribute.String(observability.AttrSessionID, s.id.String()),
		attribute.String(observability.AttrKind, kind),
		attribute.Int(observability.AttrExpected, frames),
	))
	start := time.Now()
	defer func() {
		s.metrics.CaptureDuration(ctx, kind, time.Since(start), err)
		observability.EndSpan(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errors.Conflict("camera session is closed")
	}
	if s.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CaptureTimeout)
		defer cancel()
	}
	if !s.pipe.Enabled() {
		if err := s.recover(ctx); err != nil {
			return err
		}
	}

	topic := "capture:" + kind
	log := s.log.WithFields(logger.Fields("kind", kind, logger.FieldExpected, frames))
	s.publish(sse.EventCaptureStarted, topic, "", map[string]string{"frames": strconv.Itoa(frames)})

	var got, size int
	err = s.breaker.Execute(func() error {
		var rerr error
		got, size, rerr = s.run(ctx, kind, frames, h)
		return rerr
	})
	if err == nil {
		if perr := h.PostProcess(); perr != nil {
			err = fmt.Errorf("post-process %s: %w", kind, perr)
		}
	}
	if err != nil {
		s.counts.failures.Add(1)
		s.publish(sse.EventCaptureFailed, topic, err.Error(), nil)
		log.Error("capture failed", logger.MergeWithError(logger.Fields("frames", got), err))
		if !s.pipe.Enabled() && !s.closed.Load() {
			if rerr := s.recover(context.WithoutCancel(ctx)); rerr != nil {
				log.Error("pipeline recovery failed", logger.ErrorFields("recover", rerr))
			}
		}
		return err
	}

	if kind == KindVideo {
		s.counts.videos.Add(1)
	} else {
		s.counts.stills.Add(1)
	}
	span.SetAttributes(attribute.Int(observability.AttrBytes, size))
	s.publish(sse.EventCaptureDone, topic, "", map[string]string{
		"frames": strconv.Itoa(got),
		"bytes":  strconv.Itoa(size),
	})
	log.Info("capture completed", logger.DurationFields("capture", time.Since(start)))
	return nil
}

// run arms the encoder output, starts the camera port and waits for the
// frames. Video capture is stopped again afterwards.
func (s *Session) run(ctx context.Context, kind string, frames int, h handlers.Handler) (int, int, error) {
	src, out, sk := s.cam.Output(hal.CameraStillPort), s.image.Output(0), &s.stills
	if kind == KindVideo {
		src, out, sk = s.cam.Output(hal.CameraVideoPort), s.video.Output(0), &s.clips
	}

	sk.start(h, frames)
	err := s.pipe.Run(ctx, out, frames, func(context.Context) error {
		return src.SetParameter(hal.ParamCapture, true)
	})
	if kind == KindVideo && s.pipe.Enabled() {
		if serr := src.SetParameter(hal.ParamCapture, false); serr != nil && err == nil {
			err = serr
		}
	}
	got, size := sk.stop()
	return got, size, err
}

// recover re-enables the pipeline after a failed capture.
func (s *Session) recover(ctx context.Context) error {
	cfg := s.cfg.Recovery
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.log.Warn("pipeline re-enable failed, retrying", logger.MergeWithError(
			logger.Fields("attempt", attempt, "wait", wait.String()), err))
	}
	if err := resilience.RetryFunc(ctx, cfg, func() error { return s.pipe.Enable(ctx) }); err != nil {
		return err
	}
	s.counts.recoveries.Add(1)
	s.publish(sse.EventPipelineRecovered, "pipeline:camera", "", nil)
	s.log.Info("pipeline re-enabled")
	return nil
}

func recoverable(err error) bool {
	return resilience.DefaultRetryIf(err) || errors.HasCode(err, errors.ErrCodeComponentState)
}

func countsAgainstBreaker(err error) bool {
	return !errors.HasCode(err, errors.ErrCodeInvalidInput) && !stderrors.Is(err, context.Canceled)
}

// Apply disables the pipeline, writes settings to the camera and enables
// the pipeline again. If a setting is rejected the previous settings are
// restored.
func (s *Session) Apply(ctx context.Context, settings Settings) (err error) {
	if err := settings.Validate(); err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanConfigure,
		trace.WithAttributes(attribute.String(observability.AttrSessionID, s.id.String())))
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errors.Conflict("camera session is closed")
	}

	if err := s.pipe.Disable(ctx); err != nil {
		return err
	}
	applyErr := applySettings(s.cam, settings)
	if applyErr != nil {
		s.log.Warn("settings rejected, restoring previous", logger.ErrorFields("apply", applyErr))
		applyErr = stderrors.Join(applyErr, applySettings(s.cam, s.Settings()))
	} else {
		s.settings.Store(&settings)
	}
	if err := s.pipe.Enable(ctx); err != nil {
		return stderrors.Join(applyErr, err)
	}
	if applyErr == nil {
		s.log.Info("settings applied")
	}
	return applyErr
}

// Close tears the pipeline down and releases the host. Closing twice is a
// no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	err := s.pipe.Close(ctx)
	if derr := s.host.Deinit(); derr != nil {
		err = stderrors.Join(err, errors.ComponentState(s.host.Name(), "deinit", derr))
	}
	s.release()
	s.log.Info("camera session closed")
	return err
}

// Name, Start, Stop and Health let a Session run under a component
// registry.
func (s *Session) Name() string { return "camera" }

// Start re-enables a pipeline left disabled by a failed capture.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errors.Conflict("camera session is closed")
	}
	if s.pipe.Enabled() {
		return nil
	}
	return s.recover(ctx)
}

func (s *Session) Stop(ctx context.Context) error { return s.Close(ctx) }

func (s *Session) Health(ctx context.Context) component.Health {
	h := component.Health{
		Name:   s.Name(),
		Status: component.StatusHealthy,
		Details: map[string]string{
			"session_id": s.id.String(),
			"breaker":    s.breaker.State().String(),
		},
	}
	switch {
	case s.closed.Load():
		h.Status, h.Message = component.StatusUnhealthy, "session closed"
		return h
	case !s.pipe.Enabled():
		h.Status, h.Message = component.StatusUnhealthy, "pipeline disabled"
		return h
	case s.breaker.State() == resilience.StateOpen:
		h.Status, h.Message = component.StatusDegraded, "capture circuit open"
		return h
	}
	for _, ph := range s.pipe.Health(ctx) {
		if ph.Status != component.StatusHealthy {
			h.Status, h.Message = component.StatusDegraded, ph.Name+": "+ph.Message
			break
		}
	}
	return h
}

// Stats is a snapshot of the session for status reporting.
type Stats struct {
	SessionID  string         `json:"session_id"`
	Host       string         `json:"host"`
	Closed     bool           `json:"closed"`
	Stills     uint64         `json:"stills"`
	Videos     uint64         `json:"videos"`
	Failures   uint64         `json:"failures"`
	Recoveries uint64         `json:"recoveries"`
	Breaker    string         `json:"breaker"`
	Settings   Settings       `json:"settings"`
	Pipeline   pipeline.Stats `json:"pipeline"`
}

func (s *Session) Stats() Stats {
	return Stats{
		SessionID:  s.id.String(),
		Host:       s.host.Name(),
		Closed:     s.closed.Load(),
		Stills:     s.counts.stills.Load(),
		Videos:     s.counts.videos.Load(),
		Failures:   s.counts.failures.Load(),
		Recoveries: s.counts.recoveries.Load(),
		Breaker:    s.breaker.State().String(),
		Settings:   s.Settings(),
		Pipeline:   s.pipe.Stats(),
	}
}
