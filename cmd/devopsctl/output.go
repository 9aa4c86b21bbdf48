package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/alexisbeaulieu97/devopsctl/internal/engine"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
)

const maxMessageWidth = 60

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func colorStatus(status string) string {
	switch status {
	case model.StatusSuccess, string(model.StatusSatisfied):
		return text.FgGreen.Sprint(status)
	case model.StatusFailed, string(model.StatusMissing), string(model.StatusUnknown):
		return text.FgRed.Sprint(status)
	case model.StatusWouldCreate, model.StatusWouldUpdate, model.StatusWouldDelete, model.StatusWouldRun, string(model.StatusDrifted), string(model.StatusBlocked):
		return text.FgYellow.Sprint(status)
	default:
		return text.FgHiBlack.Sprint(status)
	}
}

type jsonApplyResult struct {
	Resource string           `json:"resource"`
	Kind     string           `json:"kind"`
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Duration float64          `json:"duration_seconds"`
	Record   reconcile.Record `json:"record"`
}

type jsonApplyReport struct {
	Manifest string            `json:"manifest,omitempty"`
	DryRun   bool              `json:"dry_run"`
	Changed  int               `json:"changed"`
	Counts   map[string]int    `json:"counts"`
	Duration float64           `json:"duration_seconds"`
	Results  []jsonApplyResult `json:"results"`
}

func printApplyReport(out io.Writer, manifest string, report *engine.Report, asJSON bool) error {
	if report == nil {
		return nil
	}
	if asJSON {
		doc := jsonApplyReport{
			Manifest: manifest,
			DryRun:   report.DryRun,
			Changed:  report.Changed(),
			Counts:   report.Counts(),
			Duration: report.Duration.Seconds(),
		}
		records := report.Records()
		for i, r := range report.Results {
			doc.Results = append(doc.Results, jsonApplyResult{
				Resource: r.ResourceID,
				Kind:     r.Kind,
				Status:   r.Status,
				Message:  r.Message,
				Duration: r.Duration.Seconds(),
				Record:   records[i],
			})
		}
		return writeJSON(out, doc)
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"Resource", "Kind", "Status", "Changed", "Message", "Duration"})
	for _, r := range report.Results {
		t.AppendRow(table.Row{
			r.ResourceID,
			r.Kind,
			colorStatus(r.Status),
			r.Record.Changed,
			truncate(r.Message, maxMessageWidth),
			r.Duration.Truncate(time.Millisecond),
		})
	}
	counts := report.Counts()
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d resources", len(report.Results)), fmt.Sprintf("%d changed", report.Changed()), summarizeCounts(counts), report.Duration.Truncate(time.Millisecond)})
	t.Render()

	for _, r := range report.Results {
		if r.Status == model.StatusFailed && r.Error != nil {
			fmt.Fprintf(out, "\n%s %s: %v\n", text.FgRed.Sprint("✗"), r.ResourceID, r.Error)
		}
	}
	return nil
}

func summarizeCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

type jsonVerifyResult struct {
	Resource  string  `json:"resource"`
	Kind      string  `json:"kind"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Details   string  `json:"details,omitempty"`
	Error     string  `json:"error,omitempty"`
	Duration  float64 `json:"duration_seconds"`
	Timestamp string  `json:"timestamp"`
}

type jsonVerifySummary struct {
	Total     int     `json:"total"`
	Satisfied int     `json:"satisfied"`
	Missing   int     `json:"missing"`
	Drifted   int     `json:"drifted"`
	Blocked   int     `json:"blocked"`
	Unknown   int     `json:"unknown"`
	Duration  float64 `json:"duration_seconds"`
}

type jsonVerifyOutput struct {
	Manifest string             `json:"manifest"`
	Summary  jsonVerifySummary  `json:"summary"`
	Results  []jsonVerifyResult `json:"results"`
}

func printVerifyJSON(out io.Writer, manifest string, summary *model.VerificationSummary) error {
	doc := jsonVerifyOutput{
		Manifest: manifest,
		Summary: jsonVerifySummary{
			Total:     summary.Total,
			Satisfied: summary.Satisfied,
			Missing:   summary.Missing,
			Drifted:   summary.Drifted,
			Blocked:   summary.Blocked,
			Unknown:   summary.Unknown,
			Duration:  summary.Duration.Seconds(),
		},
		Results: make([]jsonVerifyResult, 0, len(summary.Results)),
	}
	for _, r := range summary.Results {
		entry := jsonVerifyResult{
			Resource:  r.ResourceID,
			Kind:      r.Kind,
			Status:    string(r.Status),
			Message:   r.Message,
			Details:   r.Details,
			Duration:  r.Duration.Seconds(),
			Timestamp: r.Timestamp.Format(time.RFC3339),
		}
		if r.Error != nil {
			entry.Error = r.Error.Error()
		}
		doc.Results = append(doc.Results, entry)
	}
	return writeJSON(out, doc)
}

func statusSymbol(status model.VerificationStatus) string {
	switch status {
	case model.StatusSatisfied:
		return "✔"
	case model.StatusMissing:
		return "✖"
	case model.StatusDrifted:
		return "⚠"
	case model.StatusBlocked:
		return "⊘"
	default:
		return "?"
	}
}

func printVerifyTable(out io.Writer, summary *model.VerificationSummary, verbose bool) {
	t := newTable(out)
	t.SetTitle("Verification Results")
	t.AppendHeader(table.Row{"Resource", "Kind", "Status", "Duration", "Message"})
	for _, r := range summary.Results {
		t.AppendRow(table.Row{
			r.ResourceID,
			r.Kind,
			statusSymbol(r.Status) + " " + colorStatus(string(r.Status)),
			fmt.Sprintf("%.2fs", r.Duration.Seconds()),
			truncate(r.Message, maxMessageWidth),
		})
	}
	t.Render()

	fmt.Fprintf(out, "\nSummary: %d total, %d satisfied, %d missing, %d drifted, %d blocked, %d unknown (%s)\n",
		summary.Total, summary.Satisfied, summary.Missing, summary.Drifted, summary.Blocked, summary.Unknown,
		summary.Duration.Truncate(time.Millisecond))

	if summary.AllSatisfied() {
		fmt.Fprintln(out, "All resources satisfied, no changes needed")
	} else {
		fmt.Fprintln(out, "Changes needed, run 'devopsctl apply' to converge")
	}

	if !verbose {
		return
	}
	for _, r := range summary.Results {
		switch {
		case r.Status == model.StatusDrifted && r.Details != "":
			fmt.Fprintf(out, "\n--- %s ---\n%s\n", r.ResourceID, strings.TrimRight(r.Details, "\n"))
		case r.Error != nil:
			fmt.Fprintf(out, "\n--- %s ---\nError: %v\n", r.ResourceID, r.Error)
		}
	}
}

func printSnapshot(out io.Writer, snap *reconcile.Snapshot, asJSON bool) error {
	if asJSON {
		return writeJSON(out, snapshotDoc(*snap))
	}
	t := newTable(out)
	t.SetTitle(fmt.Sprintf("%s %s", snap.Kind, snap.Name))
	t.AppendHeader(table.Row{"Field", "Value"})
	for _, key := range snap.Fields.Keys() {
		t.AppendRow(table.Row{key, formatCell(snap.Fields[key])})
	}
	t.Render()
	return nil
}

const maxListColumns = 5

func printSnapshots(out io.Writer, kind string, snaps []reconcile.Snapshot, asJSON bool) error {
	if asJSON {
		docs := make([]map[string]any, 0, len(snaps))
		for _, s := range snaps {
			docs = append(docs, snapshotDoc(s))
		}
		return writeJSON(out, docs)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, text.FgYellow.Sprintf("No %s resources found", kind))
		return nil
	}

	columns := listColumns(snaps)
	header := table.Row{"ID", "Name"}
	for _, c := range columns {
		header = append(header, c)
	}
	t := newTable(out)
	t.AppendHeader(header)
	for _, s := range snaps {
		row := table.Row{s.ID, s.Name}
		for _, c := range columns {
			row = append(row, formatCell(s.Fields[c]))
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d %s", len(snaps), kind)})
	t.Render()
	return nil
}

// listColumns picks the top level fields present on every snapshot.
func listColumns(snaps []reconcile.Snapshot) []string {
	counts := map[string]int{}
	for _, s := range snaps {
		for k := range s.Fields {
			if k == "id" || k == "name" || strings.Contains(k, ".") {
				continue
			}
			counts[k]++
		}
	}
	var out []string
	for k, n := range counts {
		if n == len(snaps) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	if len(out) > maxListColumns {
		out = out[:maxListColumns]
	}
	return out
}

func snapshotDoc(s reconcile.Snapshot) map[string]any {
	return map[string]any{"kind": s.Kind, "id": s.ID, "name": s.Name, "fields": s.Fields}
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(val, maxMessageWidth)
	case []string:
		return truncate(strings.Join(val, ", "), maxMessageWidth)
	default:
		return truncate(fmt.Sprint(val), maxMessageWidth)
	}
}
