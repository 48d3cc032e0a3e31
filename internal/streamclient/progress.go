package streamclient

import (
	"fmt"
	"io"
	"strings"

	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/service"
)

// ProgressLog tallies stream events and echoes one line per candidate.
type ProgressLog struct {
	w       io.Writer
	Valid   int
	Invalid int
	Removed model.RemovedCounts
}

func NewProgressLog(w io.Writer) *ProgressLog {
	return &ProgressLog{w: w}
}

// Observe is shaped to be passed to Consume.
func (p *ProgressLog) Observe(ev service.StreamEvent) error {
	switch ev.Type {
	case service.EventValid:
		p.Valid++
		_, err := fmt.Fprintf(p.w, "  + %s %s (%s)\n", ev.ID, ev.Summary, ev.Assignee)
		return err
	case service.EventInvalid:
		p.Invalid++
		p.count(ev.Reason)
		_, err := fmt.Fprintf(p.w, "  - %s %s\n", ev.ID, ev.Reason)
		return err
	case service.EventDone:
		if ev.Removed != nil {
			p.Removed = *ev.Removed
		}
		_, err := fmt.Fprintf(p.w, "%d qualified; removed %d security, %d confidential, %d duplicates, %d invalid\n",
			p.Valid, p.Removed.Security, p.Removed.Confidential, p.Removed.Duplicates, p.Removed.Invalid)
		return err
	}
	return nil
}

// count keeps a running tally until the done event replaces it with the
// server's totals.
func (p *ProgressLog) count(reason string) {
	switch {
	case reason == "duplicate":
		p.Removed.Duplicates++
	case strings.HasPrefix(reason, "restricted: "):
		p.Removed.AddRestricted(model.RestrictionCategory(strings.TrimPrefix(reason, "restricted: ")))
	default:
		p.Removed.Invalid++
	}
}
