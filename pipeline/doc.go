// Package pipeline coordinates a graph of mmal components.
//
// A Pipeline owns its stages and the connections between them. Build wires
// the links in dependency order, Enable brings every stage up with sinks
// first and connections last, and Disable takes them down in reverse.
//
// Run is the only blocking call. It arms a countdown on the port that marks
// completion, fires the trigger and waits:
//
//	err := p.Run(ctx, encoder.Output(0), 1, func(ctx context.Context) error {
//	    return camera.Output(hal.CameraStillPort).SetParameter(hal.ParamCapture, true)
//	})
//
// Arming always happens before the trigger, so a fast pipeline cannot
// complete before anyone listens. A failure during the run disables the
// pipeline and comes back as one PIPELINE_FAILED error.
package pipeline
