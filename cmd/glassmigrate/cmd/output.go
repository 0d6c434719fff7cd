package cmd

import (
	"fmt"
	"io"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/flameworker/glassmigrate/internal/metrics"
	"github.com/flameworker/glassmigrate/internal/migration"
)

// summaryTable prints label/value rows in insertion order with aligned values.
type summaryTable struct {
	title string
	rows  *orderedmap.OrderedMap[string, string]
}

func newSummaryTable(title string) *summaryTable {
	return &summaryTable{
		title: title,
		rows:  orderedmap.NewOrderedMap[string, string](),
	}
}

// Add sets a row. Adding an existing label replaces its value in place.
func (t *summaryTable) Add(label string, value any) {
	t.rows.Set(label, fmt.Sprint(value))
}

func (t *summaryTable) Len() int {
	return t.rows.Len()
}

// Render writes the table. Labels are padded by display width so values
// line up even when a label contains wide characters.
func (t *summaryTable) Render(w io.Writer) {
	width := 0
	for el := t.rows.Front(); el != nil; el = el.Next() {
		width = max(width, runewidth.StringWidth(el.Key))
	}

	fmt.Fprintf(w, "\n=== %s ===\n", t.title)
	for el := t.rows.Front(); el != nil; el = el.Next() {
		fmt.Fprintf(w, "%s  %s\n", runewidth.FillRight(el.Key+":", width+1), el.Value)
	}
}

// outcomeText colors a run outcome for the terminal.
func outcomeText(outcome string) string {
	switch outcome {
	case metrics.OutcomeCompleted, metrics.OutcomeSkipped:
		return color.Green.Sprint(outcome)
	case metrics.OutcomeRolledBack:
		return color.Yellow.Sprint(outcome)
	default:
		return color.Red.Sprint(outcome)
	}
}

func yesNo(b bool) string {
	if b {
		return color.Green.Sprint("yes")
	}
	return color.Yellow.Sprint("no")
}

// runSummary builds the table printed after a migrate run.
func runSummary(r *migration.Result) *summaryTable {
	t := newSummaryTable("Units Migration")
	t.Add("Run ID", r.RunID)
	t.Add("Outcome", outcomeText(r.Outcome))
	t.Add("Final state", r.FinalState)
	t.Add("Duration", r.Duration)

	if r.Backup != nil {
		t.Add("Backup entries", r.Backup.Entries)
		t.Add("Backup size", fmt.Sprintf("%d bytes", r.Backup.Bytes))
	}
	if r.Summary != nil {
		t.Add("Migrated", r.Summary.Migrated)
		t.Add("Preserved", r.Summary.Preserved)
		t.Add("Dependents checked", r.Summary.DependentsChecked)
		t.Add("Dependents unresolved", r.Summary.DependentsUnresolved)
		t.Add("Validated", yesNo(r.Validated))
	}
	if r.Rollback != nil {
		t.Add("Restored", r.Rollback.Restored)
		t.Add("Restore failures", r.Rollback.Failed)
	}
	return t
}

// rollbackSummary builds the table printed after an operator rollback.
func rollbackSummary(rs *migration.RollbackSummary) *summaryTable {
	t := newSummaryTable("Rollback")
	t.Add("Restored", rs.Restored)
	t.Add("Restore failures", rs.Failed)
	t.Add("Duration", rs.Duration)
	return t
}
