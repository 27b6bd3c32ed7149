package models

import "errors"

// Sentinel errors shared across storage and the consensus core.
var (
	ErrSurveyNotFound    = errors.New("survey not found")
	ErrRideNotFound      = errors.New("ride not found")
	ErrSurveyClosed      = errors.New("survey is not accepting responses")
	ErrDuplicateResponse = errors.New("responder already submitted a report for this survey")
	ErrSurveyExists      = errors.New("ride already has an attendance survey")
	ErrAlreadyProcessed  = errors.New("consensus already processed for this survey")
	ErrNotMember         = errors.New("user is not a joined member of this ride")
)
