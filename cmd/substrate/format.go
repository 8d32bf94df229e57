package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jcast/substrate"
)

// outputResult writes a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputResultText dispatches to the text formatter for the payload type.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case *substrate.Result:
		formatGenerateText(w, v)
	case *substrate.CheckResult:
		formatCheckText(w, v)
	case []CLITarget:
		formatTargetsText(w, v)
	case CLIValidation:
		formatValidationText(w, v)
	case *substrate.Status:
		formatStatusText(w, v)
	case []*substrate.Artifact:
		formatArtifactsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func formatGenerateText(w io.Writer, res *substrate.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, fr := range res.Written {
		fmt.Fprintf(tw, "wrote\t%s\t%s\t%s\n", fr.Backend, fr.Target, fr.Output)
	}
	for _, fr := range res.Failed {
		fmt.Fprintf(tw, "failed\t%s\t%s\t%s\n", fr.Backend, fr.Target, fr.Error)
	}
	for _, p := range res.Pruned {
		fmt.Fprintf(tw, "pruned\t\t\t%s\n", p)
	}
	tw.Flush()
	if res.Skipped > 0 {
		fmt.Fprintf(w, "%d target(s) already current\n", res.Skipped)
	}
}

func formatCheckText(w io.Writer, res *substrate.CheckResult) {
	if res.Clean() {
		fmt.Fprintf(w, "clean: %d target(s) checked\n", res.Checked)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tBACKEND\tTARGET\tOUTPUT\tDETAIL")
	for _, d := range res.Drift {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Kind, d.Backend, d.Target, d.Output, d.Detail)
	}
	tw.Flush()
}

func formatTargetsText(w io.Writer, rows []CLITarget) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tKIND\tSOURCE\tDEPS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Label, r.Kind, r.Source, strings.Join(r.Deps, ","))
	}
	tw.Flush()
}

func formatValidationText(w io.Writer, v CLIValidation) {
	if len(v.Violations) == 0 {
		fmt.Fprintf(w, "%s: ok\n", v.Manifest)
		return
	}
	for _, msg := range v.Violations {
		fmt.Fprintf(w, "%s: %s\n", v.Manifest, msg)
	}
}

func formatStatusText(w io.Writer, st *substrate.Status) {
	fmt.Fprintf(w, "Project: %s\n", st.Project)
	if len(st.Backends) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "BACKEND\tARTIFACTS\tLAST GENERATED")
		for _, b := range st.Backends {
			last := ""
			if !b.LastGenerated.IsZero() {
				last = b.LastGenerated.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Backend, b.Artifacts, last)
		}
		tw.Flush()
	}
	if len(st.Runs) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tKIND\tBACKENDS\tWRITTEN\tSKIPPED\tFAILED\tSTARTED")
		for _, r := range st.Runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				shortID(r.ID), r.Kind, r.Backends, r.Written, r.Skipped, r.Failed,
				r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()
	}
}

func formatArtifactsText(w io.Writer, arts []*substrate.Artifact) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tKIND\tOUTPUT\tRUN")
	for _, a := range arts {
		fmt.Fprintf(tw, "%s/%s\t%s\t%s\t%s\n", a.Package, a.Name, a.Kind, a.OutputPath, shortID(a.RunID))
	}
	tw.Flush()
}

// shortID truncates a run UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
