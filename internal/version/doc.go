// Package version exposes build metadata of the safety binaries.
//
// Version, Commit and BuildTime are injected with -ldflags -X at build time.
// Both safety-server and safety-ctl print them through the version subcommand,
// and the server logs them on startup.
package version
