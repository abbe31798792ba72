package models

import "github.com/golang-jwt/jwt/v5"

// StaffClaims is the payload of staff bearer tokens issued by the
// practice-management backend.
type StaffClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}
