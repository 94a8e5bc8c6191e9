package jwttoken

import (
	authmw "rally/pkg/platform/middleware/auth"
)

// JWTServiceAdapter bridges JWTService to the middleware's TokenValidator
// interface without the middleware importing this package.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{
		MemberID: claims.MemberID,
		Admin:    claims.Admin,
	}, nil
}
