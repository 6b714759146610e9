// Package server exposes a camera session over HTTP.
//
// The server runs Gin behind a net/http middleware chain (recovery,
// request id, CORS, body size limit and request logging) and accepts
// cleartext HTTP/2. Routes:
//
//	GET  /health            component health, 503 when a component is down
//	GET  /ready             200 only while every component is up
//	GET  /version           build information
//	GET  /camera            session statistics
//	GET  /camera/settings   current camera settings
//	PUT  /camera/settings   merge and apply settings
//	POST /capture/still     take a picture (?store=true&width=&height=)
//	POST /capture/video     record video (?frames=&store=true)
//	GET  /events            server-sent events (?topic=&client=)
//
// Capture and settings routes are rate limited per client when a rate is
// configured. Captures queue behind a bulkhead.
package server
