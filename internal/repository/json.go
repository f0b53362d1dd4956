package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

// locationArg renders an optional location for a JSON column.
func locationArg(loc *model.Location) any {
	if loc == nil {
		return nil
	}
	b, _ := json.Marshal(loc)
	return string(b)
}

// scanLocation decodes a nullable JSON location column.
func scanLocation(raw sql.NullString) *model.Location {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var loc model.Location
	if err := json.Unmarshal([]byte(raw.String), &loc); err != nil {
		return nil
	}
	return &loc
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
