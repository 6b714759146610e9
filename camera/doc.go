// Package camera runs a capture session on a camera pipeline.
//
// A Session owns four stages: the camera, an image encoder fed by the
// still port, a video encoder fed by the video port and a null sink that
// consumes the preview port. Captures are serialized per session; each one
// arms the encoder output for the expected number of frames, starts the
// camera port and hands every encoded payload to a handlers.Handler.
//
//	s, err := camera.Open(host, camera.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer s.Close(ctx)
//	img := handlers.NewInMemory()
//	err = s.TakePicture(ctx, img)
//
// A capture that fails midway leaves the pipeline disabled; the session
// re-enables it with the configured retry policy before reporting the
// failure, so the next capture can proceed.
package camera
