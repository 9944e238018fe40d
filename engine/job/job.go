// Package job defines the messages exchanged with the design service over
// HTTP and NATS.
package job

import (
	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/run"
)

// NATS subjects served by sewerd.
const (
	SubjectRun      = "sewer.design.run"
	SubjectProgress = "sewer.design.progress"
	SubjectCancel   = "sewer.design.cancel"
	QueueGroup      = "sewerd"
)

// Request starts a design job. Without a network the service's store is
// loaded, sized and committed.
type Request struct {
	JobID       string          `json:"job_id,omitempty"`
	Network     *domain.Network `json:"network,omitempty"`
	AutoReorder bool            `json:"auto_reorder,omitempty"`
}

// Response carries the run report. Network is set for inline jobs.
type Response struct {
	JobID     string          `json:"job_id"`
	Report    run.Report      `json:"report"`
	Network   *domain.Network `json:"network,omitempty"`
	Committed bool            `json:"committed"`
	Error     string          `json:"error,omitempty"`
}

// Progress is published on SubjectProgress while a job runs.
type Progress struct {
	JobID string  `json:"job_id"`
	Stage string  `json:"stage"`
	Pct   float64 `json:"pct"`
}

// Cancel stops a running job.
type Cancel struct {
	JobID string `json:"job_id"`
}
