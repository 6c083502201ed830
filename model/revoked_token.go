package model

import "time"

// RevokedToken marks one session token id as unusable. RevokedUntil equals
// the token's own expiry: past that point the token is rejected as expired
// anyway, so the entry can be dropped.
type RevokedToken struct {
	JTI          string
	RevokedUntil time.Time
}
