package jwttoken

import (
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
	authmw "guestgate/pkg/platform/middleware/auth"
)

// VerifierAdapter bridges the token service to the auth middleware contract,
// turning the string guest_id claim into a typed ID.
type VerifierAdapter struct {
	service *Service
}

func NewVerifierAdapter(service *Service) *VerifierAdapter {
	return &VerifierAdapter{service: service}
}

func (a *VerifierAdapter) Verify(tokenString string) (*authmw.GuestClaims, error) {
	claims, err := a.service.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	guestID, err := id.ParseGuestID(claims.GuestID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no usable guest id")
	}
	return &authmw.GuestClaims{
		GuestID:     guestID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
	}, nil
}
