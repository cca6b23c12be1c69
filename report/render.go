package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/perfgo/falseshare/model"
)

// Format selects the output representation.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatPprof    Format = "pprof"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatMarkdown, FormatJSON, FormatPprof}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (valid: table, markdown, json, pprof)", s)
}

// Options configures Render.
type Options struct {
	Format Format
	// Label the report as timing-only even if some trials carry counters
	TimingOnly bool
}

// Document is the structured form of a report.
type Document struct {
	TimingOnly bool                `json:"timing_only"`
	Summaries  []Summary           `json:"summaries"`
	Trials     []model.TrialResult `json:"trials"`
}

// NewDocument builds the structured report of results.
func NewDocument(results map[model.Layout][]model.TrialResult, timingOnly bool) Document {
	summaries := Summarize(results)
	doc := Document{
		TimingOnly: timingOnly || !HasCounters(summaries),
		Summaries:  summaries,
	}
	for _, s := range summaries {
		doc.Trials = append(doc.Trials, results[s.Layout]...)
	}
	return doc
}

// Render writes the report of results to w.
func Render(w io.Writer, results map[model.Layout][]model.TrialResult, opts Options) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}
	doc := NewDocument(results, opts.TimingOnly)

	switch opts.Format {
	case FormatTable, "":
		return writeTable(w, doc)
	case FormatMarkdown:
		return writeMarkdown(w, doc)
	case FormatJSON:
		return writeJSON(w, doc)
	case FormatPprof:
		return writePprof(w, doc)
	default:
		return fmt.Errorf("unknown format %q", opts.Format)
	}
}

func writeJSON(w io.Writer, doc Document) error {
	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// counterColumns returns the counters present in any summary, in report
// order.
func counterColumns(doc Document) []string {
	if doc.TimingOnly {
		return nil
	}
	var names []string
	for _, name := range model.CounterNames {
		for _, s := range doc.Summaries {
			if _, ok := s.Counters[name]; ok {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

func header(doc Document) []string {
	cols := []string{"Layout", "Trials", "Failed", "Elapsed mean", "Elapsed stddev", "Elapsed var (ms²)"}
	cols = append(cols, counterColumns(doc)...)
	return append(cols, "Placement")
}

func row(doc Document, s Summary) []string {
	cols := []string{
		s.Layout.String(),
		fmt.Sprint(s.Trials),
		fmt.Sprint(len(s.Failures)),
		formatNanos(s.Elapsed.Mean),
		formatNanos(s.Elapsed.StdDev()),
		fmt.Sprintf("%.4f", s.Elapsed.Variance/float64(time.Millisecond*time.Millisecond)),
	}
	for _, name := range counterColumns(doc) {
		m, ok := s.Counters[name]
		if !ok {
			cols = append(cols, "-")
			continue
		}
		cols = append(cols, formatCount(m.Mean))
	}
	return append(cols, formatPlacement(s))
}

func title(doc Document) string {
	if doc.TimingOnly {
		return "False sharing benchmark (timing-only: hardware counters unavailable)"
	}
	return "False sharing benchmark"
}

func writeTable(w io.Writer, doc Document) error {
	fmt.Fprintln(w, title(doc))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header(doc), "\t"))
	for _, s := range doc.Summaries {
		fmt.Fprintln(tw, strings.Join(row(doc, s), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	writeNotes(w, doc, "")
	return nil
}

func writeMarkdown(w io.Writer, doc Document) error {
	fmt.Fprintf(w, "## %s\n\n", title(doc))

	cols := header(doc)
	fmt.Fprintf(w, "| %s |\n", strings.Join(cols, " | "))
	seps := make([]string, len(cols))
	for i, c := range cols {
		seps[i] = strings.Repeat("-", len(c))
	}
	fmt.Fprintf(w, "|-%s-|\n", strings.Join(seps, "-|-"))
	for _, s := range doc.Summaries {
		fmt.Fprintf(w, "| %s |\n", strings.Join(row(doc, s), " | "))
	}

	writeNotes(w, doc, "- ")
	return nil
}

// writeNotes writes the layout comparison and the failure entries below the
// table. Every note line starts with bullet.
func writeNotes(w io.Writer, doc Document, bullet string) {
	var notes []string

	split, hasSplit := find(doc.Summaries, model.LayoutSplit)
	combined, hasCombined := find(doc.Summaries, model.LayoutCombined)
	if hasSplit && hasCombined && split.Elapsed.Mean > 0 && combined.Succeeded() > 0 {
		notes = append(notes, fmt.Sprintf("combined/split elapsed: %.2fx", combined.Elapsed.Mean/split.Elapsed.Mean))
		if !doc.TimingOnly {
			sm, okS := split.Counters[model.CounterL1DCacheLoadMisses]
			cm, okC := combined.Counters[model.CounterL1DCacheLoadMisses]
			if okS && okC && sm.Mean > 0 {
				notes = append(notes, fmt.Sprintf("combined/split %s: %.2fx", model.CounterL1DCacheLoadMisses, cm.Mean/sm.Mean))
			}
		}
	}

	for _, s := range doc.Summaries {
		if s.Placed > s.PlacedAsExpected {
			notes = append(notes, fmt.Sprintf("%s: %d of %d trials placed the reference count and payload unlike the layout intends",
				s.Layout, s.Placed-s.PlacedAsExpected, s.Placed))
		}
		for _, f := range s.Failures {
			notes = append(notes, fmt.Sprintf("%s trial %d: %s: %s", s.Layout, f.Trial, f.Kind, f.Message))
		}
	}

	if len(notes) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, n := range notes {
		fmt.Fprintf(w, "%s%s\n", bullet, n)
	}
}

func formatNanos(ns float64) string {
	if ns == 0 {
		return "-"
	}
	d := time.Duration(ns)
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Microsecond).String()
	default:
		return d.String()
	}
}

func formatCount(v float64) string {
	units := []string{"", "K", "M", "G", "T"}
	unit := 0
	for v >= 1000 && unit < len(units)-1 {
		v /= 1000
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%.0f", v)
	}
	formatted := fmt.Sprintf("%.2f", v)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + units[unit]
}

func formatPlacement(s Summary) string {
	if s.Placed == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d as expected", s.PlacedAsExpected, s.Placed)
}
