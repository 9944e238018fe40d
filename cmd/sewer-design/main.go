// Command sewer-design sizes, checks and renumbers sewer networks kept in
// YAML or JSON files, imports them into the Neo4j or PostgreSQL stores and
// submits them to the design service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
)

const usage = `usage: sewer-design <command> [flags]

commands:
  size      size every segment and write the results back
  verify    check numbering, topology and required fields
  reorder   sort segments by run and sequence for the configured direction
  trace     list the run that starts at a segment
  renumber  number runs by tracing from start segments
  import    copy a network file into neo4j or postgres
  submit    size a network file on a running sewerd over NATS

run "sewer-design <command> -h" for the flags of a command.
`

// errUsage asks main to print usage and exit with status 2.
var errUsage = errors.New("usage")

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, log); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error("sewer-design failed", "error", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	cmds := map[string]func(context.Context, []string, io.Writer, *slog.Logger) error{
		"size":     cmdSize,
		"verify":   cmdVerify,
		"reorder":  cmdReorder,
		"trace":    cmdTrace,
		"renumber": cmdRenumber,
		"import":   cmdImport,
		"submit":   cmdSubmit,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return cmd(ctx, args[1:], stdout, log)
}
