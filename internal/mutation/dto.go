package mutation

import (
	"github.com/frahmantamala/rental-management/internal/approval"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
)

const (
	StatusApplied         = "applied"
	StatusPendingApproval = "pending_approval"
)

// MutationRequest is the JSON form of a mutation. Multipart requests carry the
// same values in the payload, keep_attachments and reason fields.
type MutationRequest struct {
	Data            changeset.Record        `json:"data"`
	Reason          string                  `json:"reason,omitempty"`
	KeepAttachments []attachment.Attachment `json:"keep_attachments,omitempty"`
}

type MutationResponse struct {
	Status   string                    `json:"status"`
	Record   changeset.Record          `json:"record,omitempty"`
	Warnings []string                  `json:"warnings,omitempty"`
	Approval *approval.RequestResponse `json:"approval,omitempty"`
}

type RecordResponse struct {
	Resource string           `json:"resource"`
	Record   changeset.Record `json:"record"`
}

func ToMutationResponse(result *Result) MutationResponse {
	if !result.Applied {
		resp := approval.ToResponse(result.Request)
		return MutationResponse{Status: StatusPendingApproval, Approval: &resp}
	}
	return MutationResponse{
		Status:   StatusApplied,
		Record:   result.Record,
		Warnings: result.Warnings,
	}
}
