package domain

import "time"

// UserMeta is the human-facing information attached to a patch
type UserMeta struct {
	ReleaseDate  time.Time
	ReleaseNotes string
}

// NewUserMeta creates a UserMeta value
func NewUserMeta(releaseDate time.Time, releaseNotes string) UserMeta {
	return UserMeta{ReleaseDate: releaseDate, ReleaseNotes: releaseNotes}
}

// Equal reports structural equality. Release dates compare as instants, so the
// same moment in two time zones is equal.
func (m UserMeta) Equal(other UserMeta) bool {
	return m.ReleaseDate.Equal(other.ReleaseDate) && m.ReleaseNotes == other.ReleaseNotes
}
