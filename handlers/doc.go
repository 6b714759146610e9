// Package handlers provides the capture handlers a camera session writes
// encoded output to.
//
// A handler receives every payload of a capture through Process, in the
// order the encoder produced it. PostProcess runs once the capture has
// completed successfully and Close releases whatever the handler holds.
//
//	h := handlers.NewInMemory()
//	if err := session.TakePicture(ctx, h); err != nil {
//	    return err
//	}
//	img := h.Bytes()
package handlers
