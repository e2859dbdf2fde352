package importer

import (
	"testing"

	"github.com/Spok95/school-attendance/internal/models"
)

func row(n int, vals map[string]string) models.ImportRow {
	return models.ImportRow{Number: n, Values: vals}
}

func TestValidateRow_RequiredAndTypes(t *testing.T) {
	schema, err := SchemaFor(models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		values  map[string]string
		wantCol string // "" means no issue expected
	}{
		{"valid", map[string]string{"admission_no": "ADM-001", "name": "A", "grade": "5"}, ""},
		{"missing required", map[string]string{"admission_no": "ADM-001", "grade": "5"}, "name"},
		{"empty required", map[string]string{"admission_no": "ADM-001", "name": "", "grade": "5"}, "name"},
		{"bad email", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "parent_email": "nope"}, "parent_email"},
		{"good email", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "parent_email": "p@example.com"}, ""},
		{"bad phone", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "parent_phone": "abc"}, "parent_phone"},
		{"good phone", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "parent_phone": "+7 (916) 123-45-67"}, ""},
		{"bad number", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "parent_chat_id": "12x"}, "parent_chat_id"},
		{"bad date", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "date_of_birth": "yesterday"}, "date_of_birth"},
		{"good date", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "date_of_birth": "2015-09-01"}, ""},
		{"bad boolean", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "active": "maybe"}, "active"},
		{"empty optional", map[string]string{"admission_no": "A1", "name": "A", "grade": "5", "parent_email": ""}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := ValidateRow(schema, row(1, tc.values), nil)
			if tc.wantCol == "" {
				if len(issues) != 0 {
					t.Fatalf("want no issues, got %+v", issues)
				}
				return
			}
			if len(issues) != 1 || issues[0].Column != tc.wantCol {
				t.Fatalf("want one issue on %s, got %+v", tc.wantCol, issues)
			}
		})
	}
}

func TestValidateRow_EnumPattern(t *testing.T) {
	schema, err := SchemaFor(models.ImportLunchDetails)
	if err != nil {
		t.Fatal(err)
	}
	issues := ValidateRow(schema, row(1, map[string]string{
		"admission_no": "A1", "diet_type": "vegan", "payment_status": "active",
	}), nil)
	if len(issues) != 1 || issues[0].Column != "diet_type" {
		t.Fatalf("want diet_type pattern issue, got %+v", issues)
	}

	issues = ValidateRow(schema, row(1, map[string]string{
		"admission_no": "A1", "diet_type": "special", "payment_status": "overdue",
	}), nil)
	if len(issues) != 1 || issues[0].Column != "payment_status" {
		t.Fatalf("want payment_status pattern issue, got %+v", issues)
	}
}

func TestValidateRow_UniqueAcrossFile(t *testing.T) {
	schema, err := SchemaFor(models.ImportBuses)
	if err != nil {
		t.Fatal(err)
	}
	uniq := newUniqueTracker()
	first := row(1, map[string]string{"bus_id": "bus-1", "capacity": "40"})
	second := row(2, map[string]string{"bus_id": "bus-1", "capacity": "45"})

	if issues := ValidateRow(schema, first, uniq); len(issues) != 0 {
		t.Fatalf("first occurrence must pass, got %+v", issues)
	}
	issues := ValidateRow(schema, second, uniq)
	if len(issues) != 1 || issues[0].Column != "bus_id" {
		t.Fatalf("want duplicate bus_id issue, got %+v", issues)
	}
}

func TestSchemaFor_Unknown(t *testing.T) {
	if _, err := SchemaFor("timetables"); err == nil {
		t.Fatal("want error for unknown import type")
	}
}
