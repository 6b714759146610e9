package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/mmalkit/camera"
	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/handlers"
	"github.com/kbukum/mmalkit/logger"
	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/storage"
)

// Camera is the session the capture endpoints drive.
type Camera interface {
	TakePicture(ctx context.Context, h handlers.Handler) error
	CaptureVideo(ctx context.Context, frames int, h handlers.Handler) error
	Apply(ctx context.Context, s camera.Settings) error
	Settings() camera.Settings
	Config() camera.Config
	Stats() camera.Stats
}

// MaxVideoFrames bounds a single video request.
const MaxVideoFrames = 10_000

const defaultVideoFrames = 30

var mediaTypes = map[string]struct{ contentType, ext string }{
	"jpeg":  {"image/jpeg", ".jpg"},
	"png":   {"image/png", ".png"},
	"bmp":   {"image/bmp", ".bmp"},
	"gif":   {"image/gif", ".gif"},
	"h264":  {"video/h264", ".h264"},
	"mjpeg": {"video/x-motion-jpeg", ".mjpeg"},
}

// MediaType returns the content type and file extension for an encoding
// name. Unknown encodings map to application/octet-stream and ".bin".
func MediaType(encoding string) (contentType, ext string) {
	if m, ok := mediaTypes[encoding]; ok {
		return m.contentType, m.ext
	}
	return "application/octet-stream", ".bin"
}

// CaptureResult describes a capture written to storage.
type CaptureResult struct {
	Kind  string   `json:"kind"`
	Keys  []string `json:"keys"`
	Bytes int      `json:"bytes"`
}

// Captures serves the camera API. Captures run one at a time behind a
// bulkhead; callers that cannot get a slot get a 503.
type Captures struct {
	cam      Camera
	bulkhead *resilience.Bulkhead
	storage  func() storage.Storage
	retry    resilience.RetryConfig
	log      *logger.Logger
}

// CapturesOption configures Captures.
type CapturesOption func(*Captures)

// WithStorage enables ?store=true on capture requests. get may return nil
// while the storage component is stopped.
func WithStorage(get func() storage.Storage, retry resilience.RetryConfig) CapturesOption {
	return func(c *Captures) {
		c.storage = get
		c.retry = retry
	}
}

func WithCapturesLogger(l *logger.Logger) CapturesOption {
	return func(c *Captures) { c.log = l }
}

// NewCaptures creates the camera API around cam.
func NewCaptures(cam Camera, bulkhead resilience.BulkheadConfig, opts ...CapturesOption) *Captures {
	if bulkhead.Name == "" {
		bulkhead.Name = "captures"
	}
	c := &Captures{
		cam:      cam,
		bulkhead: resilience.NewBulkhead(bulkhead),
		log:      logger.Get("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Still takes a picture. By default the image is the response body.
// With store=true it is uploaded and the storage key returned. width and
// height, when given, bound the image size.
func (a *Captures) Still(c *gin.Context) {
	cfg := a.cam.Config()
	media := mediaTypes[cfg.Still.Encoding]

	var manipulator handlers.Manipulator
	width, werr := intQuery(c, "width", 0, 0, camera.SensorWidth)
	height, herr := intQuery(c, "height", 0, 0, camera.SensorHeight)
	if err := firstErr(werr, herr); err != nil {
		RespondWithError(c, err)
		return
	}
	if width > 0 || height > 0 {
		if width == 0 {
			width = cfg.Width
		}
		if height == 0 {
			height = cfg.Height
		}
		manipulator = handlers.Resize(width, height, cfg.Still.Quality)
	}

	a.capture(c, camera.KindStill, media.contentType, media.ext, manipulator, func(ctx context.Context, h handlers.Handler) error {
		return a.cam.TakePicture(ctx, h)
	})
}

// Video records ?frames= frames, 30 by default.
func (a *Captures) Video(c *gin.Context) {
	frames, err := intQuery(c, "frames", defaultVideoFrames, 1, MaxVideoFrames)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	media := mediaTypes[a.cam.Config().Video.Encoding]
	a.capture(c, camera.KindVideo, media.contentType, media.ext, nil, func(ctx context.Context, h handlers.Handler) error {
		return a.cam.CaptureVideo(ctx, frames, h)
	})
}

func (a *Captures) capture(c *gin.Context, kind, contentType, ext string, m handlers.Manipulator,
	run func(context.Context, handlers.Handler) error) {
	ctx := c.Request.Context()
	store := c.Query("store") == "true"

	var (
		mem    *handlers.InMemory
		stored *handlers.Store
		h      handlers.Handler
	)
	if store {
		var st storage.Storage
		if a.storage != nil {
			st = a.storage()
		}
		if st == nil {
			RespondWithError(c, errors.Unavailable("storage is not enabled"))
			return
		}
		opts := []handlers.StoreOption{handlers.WithRetry(a.retry), handlers.WithStoreLogger(a.log)}
		if m != nil {
			opts = append(opts, handlers.WithStoreManipulator(m))
		}
		stored = handlers.NewStore(ctx, st, handlers.UUIDNames(kind+"/", ext), opts...)
		h = stored
	} else {
		var opts []handlers.Option
		if m != nil {
			opts = append(opts, handlers.WithManipulator(m))
		}
		mem = handlers.NewInMemory(opts...)
		h = mem
	}
	defer h.Close()

	if err := a.bulkhead.Execute(ctx, func() error { return run(ctx, h) }); err != nil {
		a.log.Warn("capture request failed", logger.MergeWithError(logger.Fields("kind", kind), err))
		RespondWithError(c, err)
		return
	}

	if stored != nil {
		RespondCreated(c, CaptureResult{Kind: kind, Keys: stored.Keys(), Bytes: stored.Size()})
		return
	}
	c.Data(http.StatusOK, contentType, mem.Bytes())
}

// Stats reports the session counters and pipeline state.
func (a *Captures) Stats(c *gin.Context) {
	RespondOK(c, a.cam.Stats())
}

func (a *Captures) GetSettings(c *gin.Context) {
	RespondOK(c, a.cam.Settings())
}

// PutSettings merges the request body over the current settings and
// applies the result.
func (a *Captures) PutSettings(c *gin.Context) {
	settings := a.cam.Settings()
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	if err := a.cam.Apply(c.Request.Context(), settings); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, a.cam.Settings())
}

func intQuery(c *gin.Context, name string, def, min, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, errors.InvalidInput(name, fmt.Sprintf("must be an integer between %d and %d", min, max))
	}
	return n, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
