package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/screenbug/backend/internal/pipeline"
)

func printOK(out io.Writer, format string, args ...any) {
	printTagged(out, "[OK]", format, args...)
}

func printError(out io.Writer, format string, args ...any) {
	printTagged(out, "[ERROR]", format, args...)
}

func printHint(out io.Writer, format string, args ...any) {
	printTagged(out, "Hint:", format, args...)
}

func printTagged(out io.Writer, tag, format string, args ...any) {
	fmt.Fprintf(out, "%s %s\n", tag, fmt.Sprintf(format, args...))
}

// progress prints each run state on its own line.
func progress(out io.Writer) pipeline.Observer {
	return pipeline.ObserverFunc(func(_ context.Context, ev pipeline.Event) {
		if ev.State == pipeline.StateError {
			printError(out, "%s failed: %s", ev.Stage, ev.Error)
			return
		}
		fmt.Fprintf(out, "... %s\n", ev.State)
	})
}

func printResult(out io.Writer, res *pipeline.Result, withMarkdown bool) {
	rep := res.Report
	severity := "unknown"
	if rep.Severity != nil {
		severity = string(*rep.Severity)
	}
	printOK(out, "Report %s %q (severity: %s)", rep.ID, rep.Title, severity)
	if res.Recording != nil {
		fmt.Fprintf(out, "  recording: %s (%s)\n", res.Recording.ID, res.Recording.StoragePath)
	}
	if res.Delivery != "" {
		fmt.Fprintf(out, "  delivery:  %s\n", res.Delivery)
	}
	if withMarkdown {
		fmt.Fprintf(out, "\n%s\n", rep.RawMarkdown)
	}
}
