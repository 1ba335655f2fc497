package store

import (
	"database/sql"
	"encoding/json"

	"github.com/lexbr/intakeflow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalLeadData serializes the lead data map to a JSON column value, or
// nil when the map is empty.
func marshalLeadData(data map[string]string) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans a session row from either backend, handling nullable
// columns and the JSON lead data payload.
func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var leadDataJSON, phoneNumber, phoneFormatted, leadID, source sql.NullString
	var authorizedAt sql.NullTime
	err := row.Scan(
		&sess.SessionID, &sess.Platform, &sess.CurrentStep, &sess.FlowCompleted,
		&sess.CollectingPhone, &sess.PhoneCollected, &sess.AIMode, &leadDataJSON,
		&sess.MessageCount, &phoneNumber, &phoneFormatted, &leadID, &source,
		&authorizedAt, &sess.CreatedAt, &sess.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	sess.PhoneNumber = phoneNumber.String
	sess.PhoneFormatted = phoneFormatted.String
	sess.LeadID = leadID.String
	sess.Source = source.String
	if authorizedAt.Valid {
		t := authorizedAt.Time
		sess.AuthorizedAt = &t
	}
	sess.LeadData = make(map[string]string)
	if leadDataJSON.Valid && leadDataJSON.String != "" {
		if err := json.Unmarshal([]byte(leadDataJSON.String), &sess.LeadData); err != nil {
			// Continue with an empty map rather than failing the whole load.
			sess.LeadData = make(map[string]string)
		}
	}
	return &sess, nil
}
