// Package sse streams pipeline and capture events to HTTP clients as
// Server-Sent Events.
//
// A Hub routes each published Event to the clients whose topic filter
// matches the event's topic. Topics look like "port:camera:out:2",
// "capture:still" or "pipeline:camera"; filters are glob patterns.
//
//	hub := sse.NewHub(log)
//	go hub.Run()
//	hub.Publish(sse.Event{Type: sse.EventStarvation, Topic: "port:encoder:out:0"})
//	router.GET("/events", func(c *gin.Context) {
//	    sse.Serve(hub, c.Writer, c.Request, uuid.NewString(), c.DefaultQuery("topic", "*"))
//	})
package sse
