package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/logger"
)

// camera produces test pattern frames on its video and still outputs while
// the capture parameter is set. The preview output stays idle.
type camera struct {
	Passive
	c *Component

	mu     sync.Mutex
	stops  map[int]chan struct{}
	frames int
	wg     sync.WaitGroup
}

func newCamera(c *Component) Behaviour {
	for id, v := range cameraDefaults {
		c.control.params[id] = v
	}
	return &camera{c: c, stops: make(map[int]chan struct{})}
}

func (cam *camera) Validate(p *Port, f hal.Format) error {
	if p.info.Type != hal.PortOutput {
		return nil
	}
	if !f.Encoding.Raw() {
		return fmt.Errorf("camera outputs raw frames, got %s", f.Encoding)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("missing dimensions")
	}
	if w, h := visible(f); w > MaxWidth || h > MaxHeight {
		return fmt.Errorf("%dx%d exceeds sensor %dx%d", w, h, MaxWidth, MaxHeight)
	}
	return nil
}

func (cam *camera) SetParameter(p *Port, id hal.ParameterID, value any) error {
	if p == cam.c.control && isSetting(id) && cam.c.Enabled() {
		return fmt.Errorf("%w: %s must be disabled to change %s", hal.ErrBusy, cam.c.name, id)
	}
	if id != hal.ParamCapture || p.info.Type != hal.PortOutput {
		return nil
	}
	if value.(bool) {
		return cam.start(p)
	}
	cam.stop(p)
	return nil
}

func (cam *camera) PortDisabled(p *Port) {
	cam.stop(p)
}

func (cam *camera) Close() {
	cam.mu.Lock()
	for idx, ch := range cam.stops {
		close(ch)
		delete(cam.stops, idx)
	}
	cam.mu.Unlock()
	cam.wg.Wait()
}

func (cam *camera) start(p *Port) error {
	if !p.Enabled() {
		return fmt.Errorf("%w: %s", hal.ErrNotEnabled, p.info.Name)
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if _, running := cam.stops[p.info.Index]; running {
		return nil
	}
	stop := make(chan struct{})
	cam.stops[p.info.Index] = stop
	cam.wg.Add(1)
	go cam.run(p, stop)
	return nil
}

func (cam *camera) stop(p *Port) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if ch, ok := cam.stops[p.info.Index]; ok {
		close(ch)
		delete(cam.stops, p.info.Index)
	}
}

func (cam *camera) run(p *Port, stop chan struct{}) {
	defer cam.wg.Done()
	defer func() {
		cam.mu.Lock()
		if cam.stops[p.info.Index] == stop {
			delete(cam.stops, p.info.Index)
			p.storeParameter(hal.ParamCapture, false)
		}
		cam.mu.Unlock()
	}()

	still := p.info.Index == hal.CameraStillPort
	f := p.Committed()
	interval := cam.c.host.frameInterval
	if interval == 0 && !still && f.FrameRate.Float() > 0 {
		interval = time.Duration(float64(time.Second) / f.FrameRate.Float())
	}
	log := cam.c.host.log
	log.Debug("capture started", logger.Fields(logger.FieldPort, p.info.Name, logger.FieldEncoding, f.Encoding.String()))

	for n := 0; ; n++ {
		select {
		case <-stop:
			return
		default:
		}

		err := p.Emit(Frame{
			Data:  synthesize(f, n),
			Flags: hal.FlagFrameStart | hal.FlagFrameEnd,
			PTS:   time.Duration(n) * interval,
		})
		cam.mu.Lock()
		cam.frames++
		count := cam.frames
		cam.mu.Unlock()
		cam.c.control.storeParameter(hal.ParamFrameCount, count)

		if errors.Is(err, hal.ErrNotEnabled) || still {
			return
		}
		if interval > 0 {
			t := time.NewTimer(interval)
			select {
			case <-stop:
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}
