// Package storage archives finished captures in object storage.
//
// Backends register a factory from an init function; import the ones a
// binary needs:
//
//	import (
//	    _ "github.com/kbukum/mmalkit/storage/local"
//	    _ "github.com/kbukum/mmalkit/storage/s3"
//	)
//
//	st, err := storage.New(cfg, log)
//
// Configuration:
//
//	storage:
//	  enabled: true
//	  provider: "s3"
//	  bucket: "captures"
//	  region: "eu-west-1"
package storage
