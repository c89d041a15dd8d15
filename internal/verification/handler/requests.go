package handler

import (
	"strings"

	"guestgate/internal/form"
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
)

// startSessionRequest optionally names an earlier session to resume.
type startSessionRequest struct {
	ResumeSessionID string `json:"resume_session_id,omitempty"`

	resume id.SessionID
}

func (r *startSessionRequest) Validate() error {
	if r.ResumeSessionID == "" {
		return nil
	}
	sessionID, err := id.ParseSessionID(r.ResumeSessionID)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid resume_session_id")
	}
	r.resume = sessionID
	return nil
}

// updateFormRequest carries a partial field patch. Keys are schema field
// names; the engine rejects unknown ones.
type updateFormRequest struct {
	Fields map[string]string `json:"fields"`
}

func (r *updateFormRequest) Validate() error {
	if len(r.Fields) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "fields cannot be empty")
	}
	return nil
}

func (r *updateFormRequest) patch() map[form.Field]string {
	patch := make(map[form.Field]string, len(r.Fields))
	for name, value := range r.Fields {
		patch[form.Field(name)] = value
	}
	return patch
}

// submitCodeRequest carries the OTP code the guest typed.
type submitCodeRequest struct {
	Code string `json:"code"`
}

func (r *submitCodeRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "code is required")
	}
	return nil
}
