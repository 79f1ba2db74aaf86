package model

// Actor is the identity resolved for a request. The audit log only keeps a
// weak reference to it (ID plus a display snapshot).
type Actor struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsStaff         bool   `json:"is_staff"`
	IsSuperuser     bool   `json:"is_superuser"`
}

// Anonymous is the actor of every request without valid credentials.
func Anonymous() Actor {
	return Actor{}
}

func (a Actor) DisplayName() string {
	if !a.IsAuthenticated {
		return "Anonymous"
	}
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

// Key identifies the actor for per-caller bookkeeping such as rate limits.
func (a Actor) Key() string {
	if !a.IsAuthenticated {
		return ""
	}
	if a.ID != "" {
		return "id:" + a.ID
	}
	return "user:" + a.Username
}
