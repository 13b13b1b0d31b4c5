package integration

import "time"

// ApiToken is the OAuth credential of one scope
type ApiToken struct {
	Scope        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// ValidFor reports whether the token stays valid for at least margin past now
func (t *ApiToken) ValidFor(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.After(now.Add(margin))
}

// CanRefresh returns true if a refresh exchange is possible
func (t *ApiToken) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}
