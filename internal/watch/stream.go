package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/protomodels/internal/feed"
)

// OutputFormat selects how step events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSONL   OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported output format '%s' (expected default or jsonl)", s)
	}
}

// Filter selects which events are shown. Zero values match everything.
type Filter struct {
	Worker int // -1 for all workers
	MinZ   float64
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *feed.StepEvent) bool {
	if f.Worker >= 0 && e.Worker != f.Worker {
		return false
	}
	// Terminations are always shown for the selected workers.
	if e.Status == feed.StatusTerminated {
		return true
	}
	return e.Z >= f.MinZ
}

// Formatter renders step events.
type Formatter interface {
	FormatStep(e *feed.StepEvent) error
}

// NewFormatter returns the formatter for format.
func NewFormatter(format OutputFormat, w io.Writer) Formatter {
	if format == OutputFormatJSONL {
		return &jsonFormatter{writer: w}
	}
	return &defaultFormatter{writer: w}
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatStep(e *feed.StepEvent) error {
	ts := time.UnixMilli(e.TimestampMs).Format("15:04:05")

	var line string
	if e.Status == feed.StatusTerminated {
		line = fmt.Sprintf("[%s] 🛑 Walker %d terminated at step %d: %s (best Z=%.3f)",
			ts, e.Worker, e.Step, e.Reason, e.Z)
	} else {
		kind := e.Kind
		if kind == "" {
			kind = "none"
		}
		line = fmt.Sprintf("[%s] 📈 Walker %d step %d: Z=%.3f via %s", ts, e.Worker, e.Step, e.Z, kind)
		if masses := e.MassSummary(); masses != "" {
			line += " masses=" + masses
		}
		if len(e.Analyses) > 0 {
			line += " analyses=" + strings.Join(e.Analyses, ",")
		}
	}

	_, err := fmt.Fprintln(f.writer, line)
	return err
}

type jsonFormatter struct {
	writer io.Writer
}

func (f *jsonFormatter) FormatStep(e *feed.StepEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", data)
	return err
}

// Source delivers step events.
type Source interface {
	Events() <-chan *feed.StepEvent
	Errors() <-chan error
}

// StreamSteps writes matching events from src until ctx is cancelled or the
// source closes. Malformed events are reported to errOut and skipped.
func StreamSteps(ctx context.Context, src Source, filter Filter, formatter Formatter, errOut io.Writer) error {
	events := src.Events()
	errs := src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-events:
			if !ok {
				return nil
			}
			if !filter.Matches(e) {
				continue
			}
			if err := formatter.FormatStep(e); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errOut, "Warning: %v\n", err)
		}
	}
}
