package jwttoken

import "capbridge/internal/platform/middleware"

// MiddlewareAdapter bridges the jwt Service to the middleware's validator
// interface without the middleware importing this package.
type MiddlewareAdapter struct {
	svc *Service
}

func NewMiddlewareAdapter(svc *Service) *MiddlewareAdapter {
	return &MiddlewareAdapter{svc: svc}
}

func (a *MiddlewareAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.svc.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		AdvisorID: claims.AdvisorID,
		ClientID:  claims.ClientID,
	}, nil
}
