package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/go-playground/validator/v10"
)

type ColumnType string

const (
	ColString  ColumnType = "string"
	ColNumber  ColumnType = "number"
	ColDate    ColumnType = "date"
	ColBoolean ColumnType = "boolean"
	ColEmail   ColumnType = "email"
	ColPhone   ColumnType = "phone"
)

type Column struct {
	Name     string
	Required bool
	Type     ColumnType
	// Pattern further restricts string cells (e.g. enum columns).
	Pattern *regexp.Regexp
	// Unique values must not repeat within one file.
	Unique bool
}

type Schema struct {
	Type    models.ImportType
	Columns []Column
}

func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

var (
	paymentPattern   = regexp.MustCompile(`^(active|pending|expired)$`)
	busStatusPattern = regexp.MustCompile(`^(active|inactive|maintenance|out_of_service)$`)
	dietPattern      = regexp.MustCompile(`^(normal|special)$`)
)

var schemas = map[models.ImportType]Schema{
	models.ImportStudents: {
		Type: models.ImportStudents,
		Columns: []Column{
			{Name: "admission_no", Required: true, Type: ColString, Unique: true},
			{Name: "name", Required: true, Type: ColString},
			{Name: "grade", Required: true, Type: ColString},
			{Name: "section", Type: ColString},
			{Name: "date_of_birth", Type: ColDate},
			{Name: "parent_phone", Type: ColPhone},
			{Name: "parent_email", Type: ColEmail},
			{Name: "parent_chat_id", Type: ColNumber},
			{Name: "active", Type: ColBoolean},
		},
	},
	models.ImportBuses: {
		Type: models.ImportBuses,
		Columns: []Column{
			{Name: "bus_id", Required: true, Type: ColString, Unique: true},
			{Name: "plate", Type: ColString},
			{Name: "driver", Type: ColString},
			{Name: "capacity", Required: true, Type: ColNumber},
			{Name: "status", Type: ColString, Pattern: busStatusPattern},
		},
	},
	models.ImportTransportDetails: {
		Type: models.ImportTransportDetails,
		Columns: []Column{
			{Name: "admission_no", Required: true, Type: ColString, Unique: true},
			{Name: "bus_id", Required: true, Type: ColString},
			{Name: "pickup_point", Type: ColString},
			{Name: "dropoff_point", Type: ColString},
			{Name: "payment_status", Required: true, Type: ColString, Pattern: paymentPattern},
		},
	},
	models.ImportLunchDetails: {
		Type: models.ImportLunchDetails,
		Columns: []Column{
			{Name: "admission_no", Required: true, Type: ColString, Unique: true},
			{Name: "diet_type", Required: true, Type: ColString, Pattern: dietPattern},
			{Name: "allergies", Type: ColString},
			{Name: "requirements", Type: ColString},
			{Name: "payment_status", Required: true, Type: ColString, Pattern: paymentPattern},
		},
	},
}

func SchemaFor(t models.ImportType) (Schema, error) {
	s, ok := schemas[t]
	if !ok {
		return Schema{}, fmt.Errorf("unknown import type %q", t)
	}
	return s, nil
}

var cellValidate = validator.New()

// dateLayouts accepted for date cells; excel exports vary.
var dateLayouts = []string{"2006-01-02", "02.01.2006", "01-02-06", "2006/01/02"}

// checkCell validates a single value against its column. Empty optional
// cells pass; empty required cells fail.
func checkCell(col Column, val string) error {
	val = strings.TrimSpace(val)
	if val == "" {
		if col.Required {
			return fmt.Errorf("required value is empty")
		}
		return nil
	}
	switch col.Type {
	case ColNumber:
		if _, err := strconv.ParseFloat(val, 64); err != nil {
			return fmt.Errorf("not a number: %q", val)
		}
	case ColDate:
		ok := false
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, val); err == nil {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("not a date: %q", val)
		}
	case ColBoolean:
		switch strings.ToLower(val) {
		case "true", "false", "1", "0", "yes", "no":
		default:
			return fmt.Errorf("not a boolean: %q", val)
		}
	case ColEmail:
		if err := cellValidate.Var(val, "email"); err != nil {
			return fmt.Errorf("not an email: %q", val)
		}
	case ColPhone:
		if err := cellValidate.Var(normalizePhone(val), "e164"); err != nil {
			return fmt.Errorf("not a phone number: %q", val)
		}
	}
	if col.Pattern != nil && !col.Pattern.MatchString(val) {
		return fmt.Errorf("value %q not allowed", val)
	}
	return nil
}

func normalizePhone(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9', r == '+':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')':
		default:
			return v
		}
	}
	return b.String()
}

// uniqueTracker watches Unique columns across one file.
type uniqueTracker struct {
	seen map[string]map[string]int // column -> value -> first row
}

func newUniqueTracker() *uniqueTracker {
	return &uniqueTracker{seen: make(map[string]map[string]int)}
}

func (u *uniqueTracker) observe(col, val string, row int) (firstRow int, dup bool) {
	vals, ok := u.seen[col]
	if !ok {
		vals = make(map[string]int)
		u.seen[col] = vals
	}
	if first, ok := vals[val]; ok {
		return first, true
	}
	vals[val] = row
	return row, false
}

// ValidateRow applies the schema to one parsed row. The tracker carries
// uniqueness state across the whole file and may be nil to skip that check.
func ValidateRow(s Schema, row models.ImportRow, uniq *uniqueTracker) []models.RowIssue {
	var issues []models.RowIssue
	for _, col := range s.Columns {
		val, present := row.Values[col.Name]
		if !present {
			if col.Required {
				issues = append(issues, models.RowIssue{
					Row: row.Number, Column: col.Name, Message: "required value is empty",
				})
			}
			continue
		}
		if err := checkCell(col, val); err != nil {
			issues = append(issues, models.RowIssue{Row: row.Number, Column: col.Name, Message: err.Error()})
			continue
		}
		if col.Unique && strings.TrimSpace(val) != "" && uniq != nil {
			if first, dup := uniq.observe(col.Name, val, row.Number); dup {
				issues = append(issues, models.RowIssue{
					Row: row.Number, Column: col.Name,
					Message: fmt.Sprintf("duplicate of row %d", first),
				})
			}
		}
	}
	return issues
}
