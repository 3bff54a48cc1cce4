package model

import "time"

// Identity is the server-side account record. Email is stored lower-cased.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	Gender       string    `json:"gender,omitempty"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is what protected routes learn about the caller: a verified
// subject id and the role flag, never the raw credential.
type Principal struct {
	SubjectID string `json:"subject_id"`
	Admin     bool   `json:"admin"`
}

// Profile is the client-facing view of an Identity.
type Profile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Gender   string `json:"gender,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	Verified bool   `json:"verified"`
}

func (i Identity) Profile() Profile {
	return Profile{
		ID:       i.ID,
		Email:    i.Email,
		Username: i.Username,
		Gender:   i.Gender,
		IsAdmin:  i.IsAdmin,
		Verified: i.Verified,
	}
}

// ProfileUpdate carries optional profile changes; nil fields are left alone.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Gender   *string `json:"gender,omitempty"`
}
