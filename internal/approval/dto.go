package approval

import (
	"encoding/json"
	"time"
)

type PersonDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RequestResponse is a request as shown to reviewers and requesters.
type RequestResponse struct {
	ID           string          `json:"id"`
	ActionType   string          `json:"action_type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id"`
	OriginalData json.RawMessage `json:"original_data"`
	NewData      json.RawMessage `json:"new_data"`
	Reason       string          `json:"reason"`
	Status       string          `json:"status"`
	RequestedBy  PersonDTO       `json:"requested_by"`
	ReviewedBy   *PersonDTO      `json:"reviewed_by,omitempty"`
	ReviewNote   string          `json:"review_note,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ResolutionResponse struct {
	Request  RequestResponse        `json:"request"`
	Record   map[string]interface{} `json:"record,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

type ListResponse struct {
	Items  []RequestResponse `json:"items"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type CountResponse struct {
	Pending int64 `json:"pending"`
}

// ReviewDTO is the optional body of approve and reject calls.
type ReviewDTO struct {
	Note string `json:"note"`
}

func ToResponse(req *Request) RequestResponse {
	resp := RequestResponse{
		ID:           req.ID.String(),
		ActionType:   req.ActionType,
		ResourceType: req.ResourceType,
		OriginalData: rawOrNull(req.OriginalData),
		NewData:      rawOrNull(req.NewData),
		Reason:       req.Reason,
		Status:       req.Status,
		RequestedBy:  PersonDTO{ID: req.RequestedBy.String()},
		ReviewNote:   req.ReviewNote,
		ReviewedAt:   req.ReviewedAt,
		CreatedAt:    req.CreatedAt,
	}
	if req.ResourceID != nil {
		id := req.ResourceID.String()
		resp.ResourceID = &id
	}
	if req.Requester != nil {
		resp.RequestedBy.Name = req.Requester.Name
		resp.RequestedBy.Email = req.Requester.Email
	}
	if req.ReviewedBy != nil {
		reviewer := PersonDTO{ID: req.ReviewedBy.String()}
		if req.Reviewer != nil {
			reviewer.Name = req.Reviewer.Name
			reviewer.Email = req.Reviewer.Email
		}
		resp.ReviewedBy = &reviewer
	}
	return resp
}

func ToListResponse(requests []Request, total int64, page Page) ListResponse {
	items := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		items = append(items, ToResponse(&requests[i]))
	}
	return ListResponse{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}
}

func rawOrNull(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}
