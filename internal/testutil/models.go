// Package testutil provides shared model fixtures and deterministic
// helpers for tests across packages.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/uql/internal/schema"
)

// SingleTable returns a flat model with a primary key and every field type.
func SingleTable(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.New("single_table", []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "name", Type: schema.String},
		{Name: "last_name", Type: schema.String},
		{Name: "age", Type: schema.Integer},
		{Name: "salary", Type: schema.Decimal},
		{Name: "active", Type: schema.Boolean},
		{Name: "bio", Type: schema.Text},
		{Name: "job", Type: schema.JSON},
		{Name: "tags", Type: schema.Array},
		{Name: "created_at", Type: schema.Date},
	}, schema.WithPrimaryKey("id"))
	require.NoError(t, err)
	return m
}

// Users returns a model with a generated uuid key and a unique email.
func Users(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.New("users", []schema.Field{
		{Name: "id", Type: schema.UUID},
		{Name: "email", Type: schema.String},
		{Name: "name", Type: schema.String},
		{Name: "age", Type: schema.Integer},
	}, schema.WithPrimaryKey("id"), schema.WithUniqueIndex("email"))
	require.NoError(t, err)
	return m
}

// Memberships returns a model whose rows are unique per (org, user_id).
func Memberships(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.New("memberships", []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "org", Type: schema.String},
		{Name: "user_id", Type: schema.Integer},
		{Name: "role", Type: schema.String},
	}, schema.WithPrimaryKey("id"), schema.WithCombinedIndex("org", "userId"))
	require.NoError(t, err)
	return m
}

// Persons returns the parent model of Employees.
func Persons(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.New("persons", []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "name", Type: schema.String},
		{Name: "email", Type: schema.String},
		{Name: "created_at", Type: schema.Date},
	}, schema.WithPrimaryKey("id"), schema.WithUniqueIndex("email"))
	require.NoError(t, err)
	return m
}

// Employees returns a model extending Persons through person_id. Both
// declare name, so merged reads show the employee's value.
func Employees(t testing.TB) *schema.Model {
	t.Helper()
	return EmployeesOf(t, Persons(t))
}

// EmployeesOf builds the employee model on an existing parent.
func EmployeesOf(t testing.TB, persons *schema.Model) *schema.Model {
	t.Helper()
	m, err := schema.New("employees", []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "person_id", Type: schema.Integer},
		{Name: "name", Type: schema.String},
		{Name: "title", Type: schema.String},
		{Name: "salary", Type: schema.Decimal},
	}, schema.WithPrimaryKey("id"), schema.WithUniqueIndex("personId"), schema.Extends(persons, "personId"))
	require.NoError(t, err)
	return m
}
