package validation_test

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
	"github.com/paveg/metabulo/internal/testutil"
	"github.com/paveg/metabulo/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueTypes(issues []validation.Issue) []validation.IssueType {
	types := make([]validation.IssueType, len(issues))
	for i, issue := range issues {
		types[i] = issue.Type
	}
	return types
}

func TestValidateCleanTable(t *testing.T) {
	tbl := testutil.SimpleTable()

	issues, err := validation.Validate(tbl, roles.ClassifyDefault(tbl), validation.DefaultMissingThreshold)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Empty(t, validation.FatalIssues(issues))
	assert.NoError(t, validation.Failure("PCA", issues))
}

func TestNonNumericCheck(t *testing.T) {
	tbl := table.New([][]string{
		{"id", "col1", "col2"},
		{"row1", "0.5", "abc"},
		{"row2", "NA", "0.0"},
	})
	a := roles.ClassifyDefault(tbl)

	issues := validation.NonNumericCheck{}.Check(validation.Input{Table: tbl, Roles: a})
	require.Len(t, issues, 1)
	assert.Equal(t, validation.Fatal, issues[0].Severity)
	assert.Equal(t, "row 1, column 2", issues[0].Location())
	assert.Equal(t, "abc", issues[0].Data)

	t.Run("ignored column is not checked", func(t *testing.T) {
		edited, err := roles.ApplyBatch(a, []roles.Change{roles.ColumnChange(2, roles.ColumnIgnore)})
		require.NoError(t, err)
		assert.Empty(t, validation.NonNumericCheck{}.Check(validation.Input{Table: tbl, Roles: edited}))
	})

	t.Run("metadata row is not checked", func(t *testing.T) {
		edited, err := roles.ApplyBatch(a, []roles.Change{roles.RowChange(1, roles.RowMetadata)})
		require.NoError(t, err)
		assert.Empty(t, validation.NonNumericCheck{}.Check(validation.Input{Table: tbl, Roles: edited}))
	})
}

func TestDuplicateKeyCheck(t *testing.T) {
	tbl := table.New([][]string{
		{"id", "col1"},
		{"s1", "1"},
		{"s2", "2"},
		{"s1", "3"},
		{"", "4"},
		{"", "5"},
	})

	issues := validation.DuplicateKeyCheck{}.Check(validation.Input{Table: tbl, Roles: roles.ClassifyDefault(tbl)})
	require.Len(t, issues, 1)
	assert.Equal(t, validation.DuplicateKey, issues[0].Type)
	assert.True(t, issues[0].IsFatal())
	assert.Equal(t, 3, *issues[0].Row)
	assert.Equal(t, 0, *issues[0].Column)
	assert.Contains(t, issues[0].Message, "row 1")
}

func TestHeaderCheck(t *testing.T) {
	tbl := table.New([][]string{
		{"row1", "0.5", "2.0"},
		{"row2", "1.5", "0.0"},
	})

	issues, err := validation.Validate(tbl, roles.ClassifyDefault(tbl), validation.DefaultMissingThreshold)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, validation.MissingHeader, issues[0].Type)
	assert.Equal(t, validation.Warning, issues[0].Severity)
	assert.Equal(t, "table", issues[0].Location())
	assert.Empty(t, validation.FatalIssues(issues))
}

func TestEmptyAxisAndMissingData(t *testing.T) {
	tbl := table.New([][]string{
		{"id", "a", "b", "c"},
		{"s1", "", "1", ""},
		{"s2", "", "", "2"},
		{"s3", "", "", "3"},
		{"s4", "", "", ""},
	})

	issues, err := validation.Validate(tbl, roles.ClassifyDefault(tbl), 0.5)
	require.NoError(t, err)

	assert.Equal(t, []validation.IssueType{
		validation.EmptyRow,
		validation.EmptyColumn,
		validation.MissingData,
	}, issueTypes(issues))
	assert.Equal(t, "row 4", issues[0].Location())
	assert.Equal(t, "column 1", issues[1].Location())
	assert.Equal(t, "column 2", issues[2].Location())
	assert.InDelta(t, 0.75, issues[2].Data, 1e-12)
	assert.Empty(t, validation.FatalIssues(issues))
}

func TestMeasurementShapeCheck(t *testing.T) {
	tbl := testutil.SimpleTable()
	a, err := roles.ApplyBatch(roles.ClassifyDefault(tbl), []roles.Change{
		roles.ColumnChange(1, roles.ColumnMetadata),
		roles.ColumnChange(2, roles.ColumnIgnore),
	})
	require.NoError(t, err)

	issues, err := validation.Validate(tbl, a, validation.DefaultMissingThreshold)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, validation.NoMeasurements, issues[0].Type)
	assert.True(t, issues[0].IsFatal())
}

func TestFailure(t *testing.T) {
	tbl := table.New([][]string{
		{"id", "col1"},
		{"s1", "x"},
		{"s1", "1"},
	})
	issues, err := validation.Validate(tbl, roles.ClassifyDefault(tbl), validation.DefaultMissingThreshold)
	require.NoError(t, err)

	fatal := validation.FatalIssues(issues)
	assert.Equal(t, []validation.IssueType{validation.NonNumeric, validation.DuplicateKey}, issueTypes(fatal))

	ferr := validation.Failure("PCA", issues)
	require.Error(t, ferr)
	assert.ErrorIs(t, ferr, errors.ErrValidationFailure)

	var e *errors.Error
	require.True(t, stderrors.As(ferr, &e))
	require.Len(t, e.Issues, 2)
	assert.Equal(t, fatal[0], e.Issues[0])
}

func TestValidateStructuralErrors(t *testing.T) {
	tbl := testutil.SimpleTable()

	_, err := validation.Validate(nil, roles.Assignment{}, 0.5)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = validation.Validate(tbl, roles.NewAssignment(1, 1), 0.5)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestCustomEngine(t *testing.T) {
	tbl := table.New([][]string{{"id", "a"}, {"s1", ""}, {"s2", ""}})
	engine := validation.NewEngine(validation.EmptyAxisCheck{})

	issues, err := engine.Validate(tbl, roles.ClassifyDefault(tbl))
	require.NoError(t, err)
	assert.Equal(t, []validation.IssueType{
		validation.EmptyRow, validation.EmptyRow, validation.EmptyColumn,
	}, issueTypes(issues))
}

func TestIssueJSON(t *testing.T) {
	row := 2
	issue := validation.Issue{
		Type:     validation.NonNumeric,
		Severity: validation.Fatal,
		Row:      &row,
		Message:  "bad",
	}

	data, err := json.Marshal(issue)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"non-numeric","severity":"fatal","row_index":2,"message":"bad"}`, string(data))

	var decoded validation.Issue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, validation.Fatal, decoded.Severity)
	assert.Equal(t, 2, *decoded.Row)
	assert.Nil(t, decoded.Column)
}
