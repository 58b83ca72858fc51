package server

import (
	"encoding/json"

	"codeblue/internal/domain"
	"codeblue/internal/engine"
)

type HotlineResponse struct {
	IncidentID string `json:"incident_id"`
}

type AddMemberRequest struct {
	Phone string `json:"phone" example:"+15550100777"`
	Name  string `json:"name" example:"Dr. Osei"`
}

type MemberResponse domain.Member

type EntryResponse struct {
	Phone       string  `json:"phone"`
	Status      string  `json:"status"`
	AttemptTier int     `json:"attempt_tier"`
	DispatchRef *string `json:"dispatch_ref,omitempty"`
}

type IncidentResponse struct {
	ID         string          `json:"id"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	ReportedAt *string         `json:"reported_at,omitempty" format:"date-time"`
	Entries    []EntryResponse `json:"entries"`
}

type ReportResponse struct {
	IncidentID string             `json:"incident_id"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
	Rows       []engine.ReportRow `json:"rows"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	IncidentID string         `json:"incident_id,omitempty"`
	Contact    string         `json:"contact,omitempty"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func incidentResponse(inc domain.Incident) IncidentResponse {
	out := IncidentResponse{
		ID:         inc.ID,
		CreatedAt:  inc.CreatedAt,
		ReportedAt: inc.ReportedAt,
		Entries:    make([]EntryResponse, 0, len(inc.Entries)),
	}
	for _, e := range inc.Entries {
		out.Entries = append(out.Entries, EntryResponse{
			Phone:       e.Phone,
			Status:      e.Status,
			AttemptTier: e.AttemptTier,
			DispatchRef: e.DispatchRef,
		})
	}
	return out
}

func memberResponses(items []domain.Member) []MemberResponse {
	out := make([]MemberResponse, 0, len(items))
	for _, m := range items {
		out = append(out, MemberResponse(m))
	}
	return out
}

func eventResponses(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, ev := range items {
		resp := EventResponse{
			ID:         ev.ID,
			TS:         ev.TS,
			Type:       ev.Type,
			IncidentID: ev.IncidentID,
			Contact:    ev.Contact,
		}
		if ev.Payload != "" {
			_ = json.Unmarshal([]byte(ev.Payload), &resp.Payload)
		}
		out = append(out, resp)
	}
	return out
}
