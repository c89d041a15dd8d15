package form

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Guest count bounds for a single booking.
	MinGuests = 1
	MaxGuests = 20

	dateLayout = "2006-01-02"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	zipRe   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// Validate runs the rules for one step against the full data set and returns
// per-field messages. An empty result means the step is complete and valid.
func Validate(step Step, data Data) Errors {
	errs := Errors{}
	if data == nil {
		data = Data{}
	}
	switch step {
	case StepProfile:
		validateProfile(data, errs)
	case StepBooking:
		validateBooking(data, errs)
	case StepChannels:
		validateIdentification(data, errs)
	case StepReview:
		validateProfile(data, errs)
		validateBooking(data, errs)
		validateIdentification(data, errs)
	}
	return errs
}

// StepValid reports whether the step passes all of its rules.
func StepValid(step Step, data Data) bool {
	return Validate(step, data).Valid()
}

func validateProfile(data Data, errs Errors) {
	requireField(data, errs, FieldEmail, "email is required")
	requireField(data, errs, FieldFirstName, "first name is required")
	requireField(data, errs, FieldLastName, "last name is required")
	requireField(data, errs, FieldPhone, "phone number is required")

	if v := data[FieldEmail]; v != "" && !validEmail(v) {
		errs[FieldEmail] = "enter a valid email address"
	}
	if v := data[FieldPhone]; v != "" && !validPhone(v) {
		errs[FieldPhone] = "enter a valid US or international phone number"
	}
}

func validateBooking(data Data, errs Errors) {
	requireField(data, errs, FieldCheckIn, "check-in date is required")
	requireField(data, errs, FieldCheckOut, "check-out date is required")
	requireField(data, errs, FieldGuestCount, "guest count is required")

	checkIn, inOK := parseDate(data[FieldCheckIn])
	checkOut, outOK := parseDate(data[FieldCheckOut])
	if data[FieldCheckIn] != "" && !inOK {
		errs[FieldCheckIn] = "enter the check-in date as YYYY-MM-DD"
	}
	if data[FieldCheckOut] != "" && !outOK {
		errs[FieldCheckOut] = "enter the check-out date as YYYY-MM-DD"
	}
	// Checkout must be strictly after checkin; a same-day stay is invalid.
	if inOK && outOK && !checkOut.After(checkIn) {
		errs[FieldCheckOut] = "check-out must be after check-in"
	}

	if v := data[FieldGuestCount]; v != "" {
		if n, ok := parseGuestCount(v); !ok {
			errs[FieldGuestCount] = "guest count must be a whole number"
		} else if n < MinGuests || n > MaxGuests {
			errs[FieldGuestCount] = fmt.Sprintf("guest count must be between %d and %d", MinGuests, MaxGuests)
		}
	}

	// ZIP is only collected when the guest books near their home area.
	if data.NearHome() {
		if data[FieldHomeZIP] == "" {
			errs[FieldHomeZIP] = "home ZIP is required for stays near your home area"
		} else if !zipRe.MatchString(strings.TrimSpace(data[FieldHomeZIP])) {
			errs[FieldHomeZIP] = "enter a valid 5-digit ZIP code"
		}
	}
}

// validateIdentification enforces that at least one identification path is
// available before verification channels start: a platform profile link,
// background check consent, or a prior verified stay.
func validateIdentification(data Data, errs Errors) {
	if link := data[FieldProfileURL]; link != "" && !validProfileURL(link) {
		errs[FieldProfileURL] = "enter a full profile link including https://"
	}
	if data.HasProfileLink() || data.BackgroundConsent() || data.PriorVerified() {
		return
	}
	errs[FieldProfileURL] = "provide a profile link, consent to a background check, or confirm a prior verified stay"
}

func requireField(data Data, errs Errors, f Field, msg string) {
	if strings.TrimSpace(data[f]) == "" {
		errs[f] = msg
	}
}

func validEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

// validPhone accepts US numbers (10 digits, or 11 with leading 1) and
// international numbers with a leading + and 8-15 digits.
func validPhone(s string) bool {
	s = strings.TrimSpace(s)
	international := strings.HasPrefix(s, "+")
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	// Reject separators beyond the conventional formatting set.
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	if international {
		return len(digits) >= 8 && len(digits) <= 15
	}
	if len(digits) == 11 && digits[0] == '1' {
		return true
	}
	return len(digits) == 10
}

func validProfileURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.Contains(u.Host, ".")
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseGuestCount(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
