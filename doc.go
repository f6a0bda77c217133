// Package u4pak reads, validates, writes and mounts Unreal Engine 4 "pak"
// archives.
//
// The codec lives in internal/pakformat (scalar/string/SHA-1/zlib
// primitives) and internal/pakfile (records, indexes, footers and the Pak
// type that ties them together); internal/checkengine,
// internal/unpackengine and internal/packengine run the three worker-pool
// operations over a Pak; internal/pakfuse serves a Pak as a read-only
// fuse.Server. cmd/u4pak wires all of it behind the check/info/list/
// unpack/pack/mount subcommands.
//
// The package root also holds two small pieces of process-wide plumbing:
// InterruptibleContext (context.go), whose context cmd/u4pak passes to every
// subcommand so SIGINT/SIGTERM cancels it, and the RegisterAtExit/RunAtExit
// pair (atexit.go); cmd/u4pak calls RunAtExit after a subcommand succeeds.
package u4pak
