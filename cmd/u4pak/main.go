// Command u4pak reads, validates, writes and mounts Unreal Engine 4 "pak"
// archives (spec §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/u4pak/u4pak"
	"github.com/u4pak/u4pak/internal/argfile"
	"github.com/u4pak/u4pak/internal/pakerr"
)

const help = `u4pak <command> [-flags] <args>

Read, check, list, unpack, pack or mount Unreal Engine 4 "pak" archives.

Commands:
	check    - verify record hashes (and optionally decompressed blocks)
	info     - print archive-level metadata
	list     - list the records an archive contains
	unpack   - extract an archive to a directory
	pack     - build an archive from one or more source trees
	mount    - serve an archive as a read-only filesystem

Use "u4pak <command> -help" for flags specific to a command. Any argument
ending in ".u4pak" is expanded as an argument file (spec §6).
`

var verbs = map[string]func(ctx context.Context, args []string) error{
	"check":  cmdCheck,
	"info":   cmdInfo,
	"list":   cmdList,
	"unpack": cmdUnpack,
	"pack":   cmdPack,
	"mount":  cmdMount,
}

// exitCode maps an error returned by a subcommand to the process exit code
// spec §6 defines: 0 success, 1 recoverable archive/check error, 2 usage
// error, 3 I/O error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usageErr *pakerr.Usage
	if errors.As(err, &usageErr) {
		return 2
	}
	var ioErr *pakerr.Io
	if errors.As(err, &ioErr) {
		return 3
	}
	return 1
}

func funcmain() int {
	args, err := argfile.Expand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, help)
		return 2
	}

	verb, rest := args[0], args[1:]
	if verb == "help" || verb == "-help" || verb == "--help" {
		fmt.Fprint(os.Stderr, help)
		return 0
	}

	fn, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "u4pak: unknown command %q\n", verb)
		fmt.Fprint(os.Stderr, help)
		return 2
	}

	ctx, canc := u4pak.InterruptibleContext()
	defer canc()

	if err := fn(ctx, rest); err != nil {
		fmt.Fprintf(os.Stderr, "u4pak %s: %v\n", verb, err)
		return exitCode(err)
	}
	if err := u4pak.RunAtExit(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 3
	}
	return 0
}

func main() {
	os.Exit(funcmain())
}
