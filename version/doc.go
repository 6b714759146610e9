// Package version reports build information for mmalkit binaries.
//
//	go build -ldflags "-X github.com/kbukum/mmalkit/version.Version=1.0.0" ./cmd/picam
package version
