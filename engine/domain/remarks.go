package domain

import (
	"fmt"
	"strings"
)

// Remarks is the set of independent warning flags raised on a segment.
type Remarks uint16

const (
	RemarkSurcharge Remarks = 1 << iota
	RemarkDiameterInsufficient
	RemarkExcessVelocity
	RemarkCriticalVelocity
	RemarkExcessDepth
	RemarkFillRatio
	RemarkNegativeDrop
	RemarkIterationLimit
)

// remarkCodes is ordered by bit position; String relies on it.
var remarkCodes = []struct {
	flag Remarks
	code string
}{
	{RemarkSurcharge, "SC"},
	{RemarkDiameterInsufficient, "DI"},
	{RemarkExcessVelocity, "VM"},
	{RemarkCriticalVelocity, "VC"},
	{RemarkExcessDepth, "PR"},
	{RemarkFillRatio, "LA"},
	{RemarkNegativeDrop, "DN"},
	{RemarkIterationLimit, "IT"},
}

// Has reports whether every flag in f is set.
func (r Remarks) Has(f Remarks) bool { return r&f == f }

// Codes returns the short code of every flag set, in bit order.
func (r Remarks) Codes() []string {
	var out []string
	for _, rc := range remarkCodes {
		if r.Has(rc.flag) {
			out = append(out, rc.code)
		}
	}
	return out
}

func (r Remarks) String() string { return strings.Join(r.Codes(), ";") }

// MarshalText renders the flag set as its code string.
func (r Remarks) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText parses a code string produced by MarshalText.
func (r *Remarks) UnmarshalText(b []byte) error {
	parsed, err := ParseRemarks(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRemarks parses a ";"-separated code string.
func ParseRemarks(s string) (Remarks, error) {
	var out Remarks
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for _, rc := range remarkCodes {
			if strings.EqualFold(rc.code, part) {
				out |= rc.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown remark code %q", part)
		}
	}
	return out, nil
}

// DropKind classifies the invert discontinuity at a segment's downstream manhole.
type DropKind string

const (
	DropNone      DropKind = ""
	DropStep      DropKind = "DG"
	DropStructure DropKind = "TQ"
	DropNegative  DropKind = "NEG"
)
