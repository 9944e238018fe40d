package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the design run. Fatal precondition and topology
// errors abort a run; the physical ones are attached to segments as remarks.
var (
	ErrOrder                  = errors.New("numbering out of order")
	ErrIncompleteUpstreamFlow = errors.New("upstream flow not yet computed")
	ErrMissingRequiredField   = errors.New("missing required field")
	ErrInvalidTopology        = errors.New("invalid topology")
	ErrInvalidConfig          = errors.New("invalid design configuration")
	ErrUnknownSegment         = errors.New("unknown segment")
	ErrCancelled              = errors.New("design run cancelled")

	ErrSurcharge            = errors.New("pipe surcharged")
	ErrDiameterInsufficient = errors.New("largest diameter insufficient")
	ErrNegativeDrop         = errors.New("negative drop")
	ErrIterationLimit       = errors.New("iteration limit reached")
)

// SegmentError wraps a sentinel with the offending segment and field.
type SegmentError struct {
	SegmentID string
	Field     string
	Reason    string
	Wrapped   error
}

func (e *SegmentError) Error() string {
	msg := fmt.Sprintf("segment %s: %s", e.SegmentID, e.Wrapped)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *SegmentError) Unwrap() error { return e.Wrapped }

// NewSegmentError creates a SegmentError.
func NewSegmentError(segmentID, field string, wrapped error) *SegmentError {
	return &SegmentError{SegmentID: segmentID, Field: field, Wrapped: wrapped}
}

// MissingField reports an absent value that sizing requires.
func MissingField(segmentID, field string) *SegmentError {
	return NewSegmentError(segmentID, field, ErrMissingRequiredField)
}

// OrderError reports a numbering inconsistency found by order verification.
type OrderError struct {
	SegmentID string
	RunNo     int
	SeqNo     int
	PrevRunNo int
	PrevSeqNo int
	Reason    string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s: segment %s (%d-%d after %d-%d): %s",
		ErrOrder, e.SegmentID, e.RunNo, e.SeqNo, e.PrevRunNo, e.PrevSeqNo, e.Reason)
}

func (e *OrderError) Unwrap() error { return ErrOrder }

// TopologyError reports a node whose outlets break the single-live-outlet rule.
type TopologyError struct {
	Node     string
	Segments []string
	Reason   string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s: node %s %v: %s", ErrInvalidTopology, e.Node, e.Segments, e.Reason)
}

func (e *TopologyError) Unwrap() error { return ErrInvalidTopology }

// FailedSegment extracts the segment id carried by err, if any.
func FailedSegment(err error) (string, bool) {
	var se *SegmentError
	if errors.As(err, &se) {
		return se.SegmentID, true
	}
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.SegmentID, true
	}
	var te *TopologyError
	if errors.As(err, &te) && len(te.Segments) > 0 {
		return te.Segments[0], true
	}
	return "", false
}
