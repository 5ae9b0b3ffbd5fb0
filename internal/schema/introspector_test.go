package schema

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classchat/classchat/internal/errors"
)

func expectTableMetadata(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("information_schema.tables").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "row_estimate"}).
			AddRow("classes", 12).
			AddRow("students", 1200))

	// classes
	mock.ExpectQuery("information_schema.columns").WithArgs("classes").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "nullable"}).
			AddRow("class_id", "integer", false).
			AddRow("class_name", "text", false))
	mock.ExpectQuery("pg_index").WithArgs("classes").WillReturnRows(
		sqlmock.NewRows([]string{"attname"}).AddRow("class_id"))
	mock.ExpectQuery("FOREIGN KEY").WithArgs("classes").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column"}))

	// students
	mock.ExpectQuery("information_schema.columns").WithArgs("students").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "nullable"}).
			AddRow("roll_no", "integer", false).
			AddRow("first_name", "text", false).
			AddRow("class_id", "integer", true))
	mock.ExpectQuery("pg_index").WithArgs("students").WillReturnRows(
		sqlmock.NewRows([]string{"attname"}).AddRow("roll_no"))
	mock.ExpectQuery("FOREIGN KEY").WithArgs("students").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column"}).
			AddRow("class_id", "classes", "class_id"))
}

func TestDescribe(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTableMetadata(mock)

	desc, err := NewIntrospector(db).Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, desc.Tables, 2)

	students, ok := desc.Table("students")
	require.True(t, ok)
	assert.Equal(t, int64(1200), students.RowEstimate)
	require.Len(t, students.Columns, 3)
	assert.True(t, students.Columns[0].PrimaryKey)
	require.NotNil(t, students.Columns[2].Ref)
	assert.Equal(t, "classes", students.Columns[2].Ref.Table)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeRenderStable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTableMetadata(mock)
	desc1, err := NewIntrospector(db).Describe(context.Background())
	require.NoError(t, err)

	expectTableMetadata(mock)
	desc2, err := NewIntrospector(db).Describe(context.Background())
	require.NoError(t, err)

	// Same metadata, byte-identical prompt fragment.
	assert.Equal(t, desc1.Render(), desc2.Render())
}

func TestDescribeDanglingForeignKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("information_schema.tables").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "row_estimate"}).AddRow("marks", 500))
	mock.ExpectQuery("information_schema.columns").WithArgs("marks").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "nullable"}).
			AddRow("student_id", "integer", false))
	mock.ExpectQuery("pg_index").WithArgs("marks").WillReturnRows(
		sqlmock.NewRows([]string{"attname"}))
	mock.ExpectQuery("FOREIGN KEY").WithArgs("marks").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column"}).
			AddRow("student_id", "students", "roll_no"))

	_, err = NewIntrospector(db).Describe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchema))
	assert.Contains(t, err.Error(), "students")
}

func TestDescribeStoreUnreachable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("information_schema.tables").WillReturnError(assert.AnError)

	_, err = NewIntrospector(db).Describe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	desc := &Descriptor{Tables: []Table{{Name: "classes"}, {Name: "students"}}}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "classes"`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "students"`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(1200))

	counts, err := NewIntrospector(db).Counts(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, int64(12), counts["classes"])
	assert.Equal(t, int64(1200), counts["students"])
}

func TestSampleRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	desc := &Descriptor{Tables: []Table{{Name: "students"}}}

	mock.ExpectQuery(`SELECT \* FROM "students" LIMIT 2`).WillReturnRows(
		sqlmock.NewRows([]string{"roll_no", "first_name"}).
			AddRow("1", "Asha").
			AddRow("2", nil))

	cols, rows, err := NewIntrospector(db).SampleRows(context.Background(), desc, "students", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"roll_no", "first_name"}, cols)
	require.Len(t, rows, 2)
	assert.Equal(t, "Asha", rows[0][1])
	assert.Equal(t, "NULL", rows[1][1])
}

func TestSampleRowsUnknownTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	desc := &Descriptor{Tables: []Table{{Name: "students"}}}

	_, _, err = NewIntrospector(db).SampleRows(context.Background(), desc, "secrets", 5)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
