// Package version exposes build metadata of the doorbell binaries.
//
// Version, Commit and BuildTime are injected with -ldflags "-X" at build time.
// Short and Full render them for the version subcommand and the startup log.
package version
