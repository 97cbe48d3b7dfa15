package models

import "time"

// ProfileSettings are per-owner preferences applied when a request does not
// choose for itself.
type ProfileSettings struct {
	WebSearchDefault bool   `json:"web_search_default"`
	Locale           string `json:"locale"`
	TZ               string `json:"tz"`
}

func DefaultProfileSettings() ProfileSettings {
	return ProfileSettings{Locale: "en", TZ: "UTC"}
}

// Profile is the durable, thread-independent record of one owner.
type Profile struct {
	OwnerID     string
	DisplayName string
	AvatarURL   string
	Settings    ProfileSettings
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfileUpdate is a partial update; nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName      *string
	AvatarURL        *string
	WebSearchDefault *bool
	Locale           *string
	TZ               *string
}

// Apply returns p with every non-nil field of u written over it.
func (p Profile) Apply(u ProfileUpdate) Profile {
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.WebSearchDefault != nil {
		p.Settings.WebSearchDefault = *u.WebSearchDefault
	}
	if u.Locale != nil {
		p.Settings.Locale = *u.Locale
	}
	if u.TZ != nil {
		p.Settings.TZ = *u.TZ
	}
	return p
}
