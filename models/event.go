package models

import (
	"time"
)

// Event names sent to the analytics collector.
const (
	EventVisitorInfo       = "visitor_info"
	EventFormSubmission    = "form_submission"
	EventEmailSubscription = "email_subscription"
)

// AnalyticsEvent is one row of the analytics_events table. Params holds the
// event's named parameters and is stored as JSON.
type AnalyticsEvent struct {
	EventID    string         `json:"eventId"`
	EventName  string         `json:"eventName"`
	SessionID  string         `json:"sessionId"`
	Timestamp  time.Time      `json:"timestamp"`
	PageURL    string         `json:"pageUrl"`
	Referrer   string         `json:"referrer"`
	UserAgent  string         `json:"userAgent"`
	IPAddress  string         `json:"ipAddress"`
	DeviceType string         `json:"deviceType"`
	OS         string         `json:"os"`
	Browser    string         `json:"browser"`
	Country    string         `json:"country,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

type TopPathResult struct {
	PageURL string `json:"pageUrl"`
	Count   uint64 `json:"count"`
}

type BreakdownResult struct {
	Label string `json:"label"`
	Count uint64 `json:"count"`
}
