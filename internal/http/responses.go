package http

import (
	"time"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/storage"
	"lid-inspector/internal/watcher"
)

type InspectionResponse struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	FileName      string         `json:"file_name"`
	Verdict       domain.Verdict `json:"verdict"`
	Accepted      bool           `json:"accepted"`
	Reason        string         `json:"reason"`
	Confidence    *int           `json:"confidence,omitempty"`
	Strictness    int            `json:"strictness"`
	NoBrand       bool           `json:"no_brand"`
	Model         string         `json:"model,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	S3Location    string         `json:"s3_location,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	InspectedAt   time.Time      `json:"inspected_at"`
}

type SettingsResponse struct {
	Strictness int  `json:"strictness"`
	NoBrand    bool `json:"no_brand"`
}

type CountersResponse struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

type StatusResponse struct {
	WatchDir  string              `json:"watch_dir"`
	Current   string              `json:"current,omitempty"`
	Last      *InspectionResponse `json:"last,omitempty"`
	Counters  CountersResponse    `json:"counters"`
	Settings  SettingsResponse    `json:"settings"`
	Pending   int                 `json:"pending"`
	Processed int                 `json:"processed"`
	ClearedAt *time.Time          `json:"cleared_at,omitempty"`
}

type StatsResponse struct {
	Total    int64 `json:"total"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Errored  int64 `json:"errored"`
}

type StorageObjectResponse struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

type UserResponse struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// EventMessage is one frame on the live stream.
type EventMessage struct {
	Type       string              `json:"type"`
	Inspection *InspectionResponse `json:"inspection,omitempty"`
	Counters   *CountersResponse   `json:"counters,omitempty"`
	Settings   *SettingsResponse   `json:"settings,omitempty"`
	Status     *StatusResponse     `json:"status,omitempty"`
}

func inspectionToResponse(in *domain.Inspection) InspectionResponse {
	resp := InspectionResponse{
		ID:            in.ID,
		CorrelationID: in.CorrelationID,
		FileName:      in.FileName,
		Verdict:       in.Verdict,
		Accepted:      in.Verdict.Accepted(),
		Reason:        in.Reason,
		Strictness:    in.Strictness,
		NoBrand:       in.NoBrand,
		Model:         in.Model,
		ErrorMessage:  in.ErrorMessage,
		S3Location:    in.S3Location,
		CreatedAt:     in.CreatedAt,
		InspectedAt:   in.InspectedAt,
	}
	if in.Confidence >= 0 {
		confidence := in.Confidence
		resp.Confidence = &confidence
	}
	return resp
}

func settingsToResponse(s domain.Settings) SettingsResponse {
	return SettingsResponse{Strictness: s.Strictness, NoBrand: s.NoBrand}
}

func countersToResponse(c domain.Counters) CountersResponse {
	return CountersResponse{Accepted: c.Accepted, Rejected: c.Rejected}
}

func statusToResponse(s watcher.Status) StatusResponse {
	resp := StatusResponse{
		WatchDir:  s.WatchDir,
		Current:   s.Current,
		Counters:  countersToResponse(s.Counters),
		Settings:  settingsToResponse(s.Settings),
		Pending:   s.Pending,
		Processed: s.Processed,
	}
	if s.Last != nil {
		last := inspectionToResponse(s.Last)
		resp.Last = &last
	}
	if !s.ClearedAt.IsZero() {
		cleared := s.ClearedAt
		resp.ClearedAt = &cleared
	}
	return resp
}

func eventToMessage(ev watcher.Event) EventMessage {
	counters := countersToResponse(ev.Counters)
	settings := settingsToResponse(ev.Settings)
	msg := EventMessage{
		Type:     string(ev.Type),
		Counters: &counters,
		Settings: &settings,
	}
	if ev.Inspection != nil {
		in := inspectionToResponse(ev.Inspection)
		msg.Inspection = &in
	}
	return msg
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	return StorageObjectResponse{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: obj.LastModified,
	}
}

func userToResponse(u *domain.User) UserResponse {
	resp := UserResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
	if !u.LastLoginAt.IsZero() {
		last := u.LastLoginAt
		resp.LastLoginAt = &last
	}
	return resp
}
