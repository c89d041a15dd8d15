// Package form defines the guest intake schema and its pure validation rules.
//
// Validation failures are data (field -> message maps), never Go errors: the
// engine stores them in the form section and the UI renders them inline.
package form

import (
	dErrors "guestgate/pkg/domain-errors"
)

// Field is a form field key.
type Field string

// Intake fields across all steps.
const (
	FieldEmail     Field = "email"
	FieldFirstName Field = "first_name"
	FieldLastName  Field = "last_name"
	FieldPhone     Field = "phone"

	FieldCheckIn     Field = "check_in"
	FieldCheckOut    Field = "check_out"
	FieldGuestCount  Field = "guest_count"
	FieldNearHome    Field = "near_home"
	FieldHomeZIP     Field = "home_zip"
	FieldStayPurpose Field = "stay_purpose"

	FieldProfileURL        Field = "profile_url"
	FieldBackgroundConsent Field = "background_consent"
	FieldPriorVerified     Field = "prior_verified"
)

// knownFields is the closed set accepted by UpdateFormData merges.
var knownFields = map[Field]bool{
	FieldEmail: true, FieldFirstName: true, FieldLastName: true, FieldPhone: true,
	FieldCheckIn: true, FieldCheckOut: true, FieldGuestCount: true,
	FieldNearHome: true, FieldHomeZIP: true, FieldStayPurpose: true,
	FieldProfileURL: true, FieldBackgroundConsent: true, FieldPriorVerified: true,
}

// KnownField reports whether the key belongs to the schema.
func KnownField(f Field) bool { return knownFields[f] }

// Step is one stage of the intake journey.
type Step string

// Journey steps in order.
const (
	StepProfile  Step = "profile"
	StepBooking  Step = "booking"
	StepChannels Step = "channels"
	StepReview   Step = "review"
)

// Steps is the journey order. AdvanceStep walks this slice.
var Steps = []Step{StepProfile, StepBooking, StepChannels, StepReview}

// ParseStep constructs a Step from external input.
//
// Errors: CodeInvalidInput when the value is not a journey step.
func ParseStep(s string) (Step, error) {
	for _, step := range Steps {
		if Step(s) == step {
			return step, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown step %q", s)
}

// Index returns the step's position in the journey, or -1 for unknown steps.
func (s Step) Index() int {
	for i, step := range Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// Next returns the following step. ok is false at the end of the journey.
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(Steps) {
		return s, false
	}
	return Steps[i+1], true
}

// IsLast reports whether the step ends the journey.
func (s Step) IsLast() bool { return s == Steps[len(Steps)-1] }

func (s Step) String() string { return string(s) }

// Data holds the guest's answers keyed by field. Values are strings as
// entered; typed reads go through the accessor methods.
type Data map[Field]string

// Clone returns an independent copy.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge applies a patch of field values onto a copy of d. Unknown fields are
// reported rather than silently dropped.
func (d Data) Merge(patch map[Field]string) (Data, error) {
	for f := range patch {
		if !KnownField(f) {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown form field %q", f)
		}
	}
	out := d.Clone()
	for f, v := range patch {
		out[f] = v
	}
	return out, nil
}

// Errors maps fields to human-readable validation messages.
type Errors map[Field]string

// Valid reports whether no field failed.
func (e Errors) Valid() bool { return len(e) == 0 }

// Clone returns an independent copy.
func (e Errors) Clone() Errors {
	out := make(Errors, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// boolSet reports whether a boolean field is affirmatively set.
func (d Data) boolSet(f Field) bool { return d[f] == "true" }

// NearHome reports whether the guest flagged the booking as near their home.
func (d Data) NearHome() bool { return d.boolSet(FieldNearHome) }

// BackgroundConsent reports whether the guest consented to a background check.
func (d Data) BackgroundConsent() bool { return d.boolSet(FieldBackgroundConsent) }

// PriorVerified reports whether the guest claims a prior verified stay.
func (d Data) PriorVerified() bool { return d.boolSet(FieldPriorVerified) }

// HasProfileLink reports whether a well-formed platform profile URL is set.
func (d Data) HasProfileLink() bool {
	return d[FieldProfileURL] != "" && validProfileURL(d[FieldProfileURL])
}

// ProfileURL returns the raw profile link value.
func (d Data) ProfileURL() string { return d[FieldProfileURL] }

// GuestCount returns the parsed guest count; ok is false when absent or not
// an integer.
func (d Data) GuestCount() (int, bool) {
	return parseGuestCount(d[FieldGuestCount])
}

// Phone returns the raw phone value.
func (d Data) Phone() string { return d[FieldPhone] }

// Email returns the raw email value.
func (d Data) Email() string { return d[FieldEmail] }
