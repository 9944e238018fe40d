package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/sewernet/engine/job"
	"github.com/WessleyAI/sewernet/engine/network"
	"github.com/WessleyAI/sewernet/pkg/natsutil"
)

// cmdSubmit sends a network file to a running sewerd over NATS and writes
// the sized network back when the run may be persisted.
func cmdSubmit(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	fs, c := newFlags("submit", true)
	natsURL := fs.String("nats", nats.DefaultURL, "NATS server sewerd listens on")
	timeout := fs.Duration("timeout", 5*time.Minute, "give up waiting for the reply after this long")
	reorder := fs.Bool("auto-reorder", false, "let the service sort out-of-order numbering")
	id := fs.String("job", "", "job id (random when empty)")
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	_, f, err := c.load()
	if err != nil {
		return err
	}
	net, err := f.Load(ctx)
	if err != nil {
		return err
	}
	if *id == "" {
		*id = uuid.NewString()
	}

	nc, err := nats.Connect(*natsURL, nats.Name("sewer-design"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	sub, err := natsutil.Subscribe(nc, job.SubjectProgress, log, func(_ context.Context, p job.Progress) {
		if p.JobID == *id {
			log.Info("progress", "job", p.JobID, "stage", p.Stage, "pct", fmt.Sprintf("%.0f", p.Pct))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", job.SubjectProgress, err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	req := job.Request{JobID: *id, Network: &net, AutoReorder: *reorder}
	resp, err := natsutil.Request[job.Request, job.Response](ctx, nc, job.SubjectRun, req)
	if ctx.Err() != nil {
		// The service may still be working on it.
		if perr := natsutil.Publish(context.Background(), nc, job.SubjectCancel, job.Cancel{JobID: *id}); perr != nil {
			log.Warn("cancel publish failed", "job", *id, "err", perr)
		}
	}
	if resp.JobID != "" {
		if perr := printJSON(stdout, resp.Report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("job %s: %w", *id, err)
	}
	if resp.Network == nil || !resp.Report.Persist {
		return nil
	}
	return network.WriteFile(c.target(), *resp.Network)
}
