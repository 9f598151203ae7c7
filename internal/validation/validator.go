// Package validation reports data-quality problems of a raw table under a
// role assignment. Problems are returned as structured issues; nothing in
// this package fails with an error because of the data itself.
//
// Checks are small Checker values run in a fixed order by an Engine. FATAL
// issues block analysis: callers filter them with Fatal and refuse to run
// the analysis while the list is non-empty.
package validation

import (
	"fmt"
	"strings"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
)

// DefaultMissingThreshold is the share of missing values in a data column
// above which a missing-data warning is reported.
const DefaultMissingThreshold = 0.5

// Severity classifies an issue.
type Severity int

const (
	Warning Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "warning"
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes "warning" or "fatal".
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "fatal":
		*s = Fatal
	case "warning":
		*s = Warning
	default:
		return errors.NewInvalidInputError("validation.Severity", fmt.Sprintf("unknown severity %q", b))
	}
	return nil
}

// IssueType names the check that produced an issue.
type IssueType string

const (
	NonNumeric     IssueType = "non-numeric"
	DuplicateKey   IssueType = "duplicate-key"
	MissingHeader  IssueType = "missing-header"
	EmptyRow       IssueType = "empty-row"
	EmptyColumn    IssueType = "empty-column"
	MissingData    IssueType = "missing-data"
	NoMeasurements IssueType = "no-measurements"
)

// Issue is one validation finding. Row and Column are table indices and are
// nil when the issue is not tied to that axis.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Row      *int      `json:"row_index,omitempty"`
	Column   *int      `json:"column_index,omitempty"`
	Message  string    `json:"message"`
	Data     any       `json:"data,omitempty"`
}

// IsFatal reports whether the issue blocks analysis.
func (i Issue) IsFatal() bool { return i.Severity == Fatal }

// Location describes where the issue was found.
func (i Issue) Location() string {
	switch {
	case i.Row != nil && i.Column != nil:
		return fmt.Sprintf("row %d, column %d", *i.Row, *i.Column)
	case i.Row != nil:
		return fmt.Sprintf("row %d", *i.Row)
	case i.Column != nil:
		return fmt.Sprintf("column %d", *i.Column)
	default:
		return "table"
	}
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s at %s: %s", i.Severity, i.Type, i.Location(), i.Message)
}

// Input is what the checks inspect.
type Input struct {
	Table *table.Table
	Roles roles.Assignment
}

// Checker is a single validation rule.
type Checker interface {
	Check(in Input) []Issue
}

// NonNumericCheck flags data cells that cannot be read as numbers.
type NonNumericCheck struct{}

// Check reports one FATAL issue per non-numeric cell.
func (NonNumericCheck) Check(in Input) []Issue {
	var issues []Issue
	cols := in.Roles.DataColumns()
	for _, i := range in.Roles.DataRows() {
		for _, j := range cols {
			cell := in.Table.Cell(i, j)
			if table.IsNumeric(cell) {
				continue
			}
			issues = append(issues, Issue{
				Type:     NonNumeric,
				Severity: Fatal,
				Row:      intPtr(i),
				Column:   intPtr(j),
				Message:  fmt.Sprintf("value %q is not numeric", cell),
				Data:     cell,
			})
		}
	}
	return issues
}

// DuplicateKeyCheck flags repeated values in the key column.
type DuplicateKeyCheck struct{}

// Check reports every data row whose key repeats an earlier one.
func (DuplicateKeyCheck) Check(in Input) []Issue {
	key, ok := in.Roles.KeyColumn()
	if !ok {
		return nil
	}

	var issues []Issue
	seen := make(map[string]int)
	for _, i := range in.Roles.DataRows() {
		value := in.Table.Cell(i, key)
		if table.IsMissing(value) {
			continue
		}
		first, dup := seen[value]
		if !dup {
			seen[value] = i
			continue
		}
		issues = append(issues, Issue{
			Type:     DuplicateKey,
			Severity: Fatal,
			Row:      intPtr(i),
			Column:   intPtr(key),
			Message:  fmt.Sprintf("key %q duplicates row %d", value, first),
			Data:     value,
		})
	}
	return issues
}

// HeaderCheck warns when no header row is assigned although the table has
// enough rows to spare one.
type HeaderCheck struct{}

// Check reports a single WARNING when the header row is missing.
func (HeaderCheck) Check(in Input) []Issue {
	if _, ok := in.Roles.HeaderRow(); ok || in.Table.Rows() < 2 {
		return nil
	}
	return []Issue{{
		Type:     MissingHeader,
		Severity: Warning,
		Message:  "no header row is assigned; columns are named by position",
	}}
}

// EmptyAxisCheck warns about data rows and data columns with no observed value.
type EmptyAxisCheck struct{}

// Check reports fully empty rows first, then fully empty columns.
func (EmptyAxisCheck) Check(in Input) []Issue {
	rows, cols := in.Roles.DataRows(), in.Roles.DataColumns()
	if len(rows) == 0 || len(cols) == 0 {
		return nil
	}

	var issues []Issue
	for _, i := range rows {
		if countMissing(in.Table, []int{i}, cols) == len(cols) {
			issues = append(issues, Issue{
				Type:     EmptyRow,
				Severity: Warning,
				Row:      intPtr(i),
				Message:  "row has no values",
			})
		}
	}
	for _, j := range cols {
		if countMissing(in.Table, rows, []int{j}) == len(rows) {
			issues = append(issues, Issue{
				Type:     EmptyColumn,
				Severity: Warning,
				Column:   intPtr(j),
				Message:  "column has no values",
			})
		}
	}
	return issues
}

// MissingDataCheck warns about data columns whose share of missing values
// exceeds Threshold. Fully empty columns are left to EmptyAxisCheck.
type MissingDataCheck struct {
	Threshold float64
}

// Check reports one WARNING per sparse column.
func (c MissingDataCheck) Check(in Input) []Issue {
	rows := in.Roles.DataRows()
	if len(rows) == 0 {
		return nil
	}

	var issues []Issue
	for _, j := range in.Roles.DataColumns() {
		missing := countMissing(in.Table, rows, []int{j})
		if missing == len(rows) {
			continue
		}
		share := float64(missing) / float64(len(rows))
		if share <= c.Threshold {
			continue
		}
		issues = append(issues, Issue{
			Type:     MissingData,
			Severity: Warning,
			Column:   intPtr(j),
			Message:  fmt.Sprintf("%.0f%% of values are missing", share*100),
			Data:     share,
		})
	}
	return issues
}

// MeasurementShapeCheck fails when no data row or no data column is left.
type MeasurementShapeCheck struct{}

// Check reports a single FATAL issue for an empty measurement table.
func (MeasurementShapeCheck) Check(in Input) []Issue {
	rows, cols := len(in.Roles.DataRows()), len(in.Roles.DataColumns())
	if rows > 0 && cols > 0 {
		return nil
	}
	return []Issue{{
		Type:     NoMeasurements,
		Severity: Fatal,
		Message:  fmt.Sprintf("measurement table is empty (%d data rows, %d data columns)", rows, cols),
	}}
}

// Engine runs checks in order and concatenates their issues.
type Engine struct {
	checks []Checker
}

// NewEngine creates an engine over checks.
func NewEngine(checks ...Checker) *Engine {
	return &Engine{checks: checks}
}

// DefaultChecks returns the standard check sequence.
func DefaultChecks(missingThreshold float64) []Checker {
	return []Checker{
		MeasurementShapeCheck{},
		NonNumericCheck{},
		DuplicateKeyCheck{},
		HeaderCheck{},
		EmptyAxisCheck{},
		MissingDataCheck{Threshold: missingThreshold},
	}
}

// Validate runs every check. A role assignment that does not match the
// table shape is a structural error, not an issue.
func (e *Engine) Validate(t *table.Table, a roles.Assignment) ([]Issue, error) {
	if t == nil {
		return nil, errors.NewInvalidInputError("validation.Validate", "nil table")
	}
	if len(a.Rows) != t.Rows() || len(a.Columns) != t.Columns() {
		return nil, errors.NewInvalidInputError("validation.Validate",
			fmt.Sprintf("roles cover %dx%d cells, table is %dx%d", len(a.Rows), len(a.Columns), t.Rows(), t.Columns()))
	}

	in := Input{Table: t, Roles: a}
	issues := make([]Issue, 0)
	for _, c := range e.checks {
		issues = append(issues, c.Check(in)...)
	}
	return issues, nil
}

// Validate runs the default checks with the given missing-data threshold.
func Validate(t *table.Table, a roles.Assignment, missingThreshold float64) ([]Issue, error) {
	return NewEngine(DefaultChecks(missingThreshold)...).Validate(t, a)
}

// FatalIssues keeps only FATAL issues, in order.
func FatalIssues(issues []Issue) []Issue {
	fatal := make([]Issue, 0)
	for _, issue := range issues {
		if issue.IsFatal() {
			fatal = append(fatal, issue)
		}
	}
	return fatal
}

// Failure wraps fatal issues in a ValidationFailure error. It returns nil
// when there is nothing fatal.
func Failure(op string, issues []Issue) error {
	fatal := FatalIssues(issues)
	if len(fatal) == 0 {
		return nil
	}
	payload := make([]any, len(fatal))
	for i, issue := range fatal {
		payload[i] = issue
	}
	return errors.NewValidationFailure(op, payload)
}

func countMissing(t *table.Table, rows, cols []int) int {
	n := 0
	for _, i := range rows {
		for _, j := range cols {
			if table.IsMissing(t.Cell(i, j)) {
				n++
			}
		}
	}
	return n
}

func intPtr(v int) *int { return &v }
