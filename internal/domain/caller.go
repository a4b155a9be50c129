package domain

// Caller is the identity context a feature is resolved against. It is
// derived from the upstream session token on each request and never
// persisted.
type Caller struct {
	IsAuthenticated bool     `json:"is_authenticated"`
	UserType        string   `json:"user_type"`
	Roles           []string `json:"roles,omitempty"`
}

// Anonymous is the caller used for unauthenticated requests.
func Anonymous() Caller {
	return Caller{}
}

// StudentCaller builds the caller used by the student-facing consumer.
func StudentCaller(roles []string) Caller {
	return Caller{IsAuthenticated: true, UserType: UserTypeStudent, Roles: roles}
}

const (
	UserTypeStudent    = "student"
	UserTypeUniversity = "university"
	UserTypeAdmin      = "admin"
)
