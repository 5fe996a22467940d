package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// typePattern constrains job type names: lowercase dot-separated
// segments, e.g. "agent.train".
var typePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)*$`)

// Priority bounds accepted from the API. Lower value = higher priority.
const (
	MinPriority = -100
	MaxPriority = 100
)

// SubmitRequest is the decoded body of a job submission.
type SubmitRequest struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Priority   *int            `json:"priority"`
	MaxRetries *int            `json:"max_retries"`
	RetryDelay string          `json:"retry_delay"` // ISO 8601, e.g. "PT1S"
}

// ScheduleRequest is the decoded body of a schedule submission. Exactly
// one of Time, Delay, Cron must be set.
type ScheduleRequest struct {
	SubmitRequest
	Time  string `json:"time"`  // absolute, RFC 3339
	Delay string `json:"delay"` // relative, ISO 8601 duration
	Cron  string `json:"cron"`  // recurring, cron expression
}

// ParseSubmitRequest decodes and validates a job submission body.
func ParseSubmitRequest(body []byte) (*SubmitRequest, *EngineError) {
	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewInvalidRequestError("Request body is not valid JSON.", map[string]any{"error": err.Error()})
	}
	if err := ValidateSubmitRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ValidateSubmitRequest checks a submission against the engine's
// constraints.
func ValidateSubmitRequest(req *SubmitRequest) *EngineError {
	if req.Type == "" {
		return NewInvalidRequestError("Field 'type' is required.", nil)
	}
	if !typePattern.MatchString(req.Type) {
		return NewInvalidRequestError(
			fmt.Sprintf("Invalid job type %q: must match %s", req.Type, typePattern.String()),
			map[string]any{"type": req.Type},
		)
	}
	if req.ID != "" && !IsValidID(req.ID) {
		return NewValidationError("Field 'id' must be at most 128 characters.", map[string]any{"id": req.ID})
	}
	if req.Priority != nil && (*req.Priority < MinPriority || *req.Priority > MaxPriority) {
		return NewValidationError(
			fmt.Sprintf("Field 'priority' must be between %d and %d.", MinPriority, MaxPriority),
			map[string]any{"priority": *req.Priority},
		)
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return NewValidationError("Field 'max_retries' must not be negative.", map[string]any{"max_retries": *req.MaxRetries})
	}
	if req.RetryDelay != "" {
		if _, err := ParseISO8601Duration(req.RetryDelay); err != nil {
			return NewValidationError(
				fmt.Sprintf("Field 'retry_delay' is not a valid ISO 8601 duration: %v", err),
				map[string]any{"retry_delay": req.RetryDelay},
			)
		}
	}
	return nil
}

// RetryPolicyFromRequest converts the request's retry fields to a
// policy, or nil when neither was provided (engine defaults apply).
func (req *SubmitRequest) RetryPolicyFromRequest() *RetryPolicy {
	if req.MaxRetries == nil && req.RetryDelay == "" {
		return nil
	}
	policy := DefaultRetryPolicy()
	if req.MaxRetries != nil {
		policy.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelay != "" {
		// Already validated.
		if d, err := ParseISO8601Duration(req.RetryDelay); err == nil {
			policy.RetryDelay = d
		}
	}
	return &policy
}

// ParseScheduleRequest decodes and validates a schedule submission
// body.
func ParseScheduleRequest(body []byte) (*ScheduleRequest, *EngineError) {
	var req ScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewInvalidRequestError("Request body is not valid JSON.", map[string]any{"error": err.Error()})
	}
	if err := ValidateSubmitRequest(&req.SubmitRequest); err != nil {
		return nil, err
	}

	set := 0
	for _, v := range []string{req.Time, req.Delay, req.Cron} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, NewInvalidRequestError("Exactly one of 'time', 'delay', 'cron' is required.", nil)
	}
	if req.Time != "" {
		if _, err := ParseTime(req.Time); err != nil {
			return nil, NewValidationError(
				fmt.Sprintf("Field 'time' is not a valid timestamp: %v", err),
				map[string]any{"time": req.Time},
			)
		}
	}
	if req.Delay != "" {
		if _, err := ParseISO8601Duration(req.Delay); err != nil {
			return nil, NewValidationError(
				fmt.Sprintf("Field 'delay' is not a valid ISO 8601 duration: %v", err),
				map[string]any{"delay": req.Delay},
			)
		}
	}
	return &req, nil
}

// FireTime resolves the request's absolute fire time for 'time' and
// 'delay' schedules. Cron schedules compute theirs from the expression.
func (req *ScheduleRequest) FireTime(now time.Time) time.Time {
	if req.Time != "" {
		t, _ := ParseTime(req.Time)
		return t
	}
	d, _ := ParseISO8601Duration(req.Delay)
	return now.Add(d)
}
