package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

type profileSettingsRequest struct {
	WebSearchDefault *bool   `json:"web_search_default"`
	Locale           *string `json:"locale"`
	TZ               *string `json:"tz"`
}

// profileRequest is a partial update; absent fields keep their value.
type profileRequest struct {
	DisplayName *string                 `json:"display_name"`
	AvatarURL   *string                 `json:"avatar_url"`
	Settings    *profileSettingsRequest `json:"settings"`
}

func (r profileRequest) update() models.ProfileUpdate {
	patch := models.ProfileUpdate{
		DisplayName: trimmed(r.DisplayName),
		AvatarURL:   trimmed(r.AvatarURL),
	}
	if r.Settings != nil {
		patch.WebSearchDefault = r.Settings.WebSearchDefault
		patch.Locale = trimmed(r.Settings.Locale)
		patch.TZ = trimmed(r.Settings.TZ)
	}
	return patch
}

// handleGetProfile returns the caller's profile, creating it from the token
// name on first use.
func (h *Handler) handleGetProfile(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	profile, err := h.repo.EnsureProfile(c.Request.Context(), identity.Subject, identity.Name)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to load profile", err)
		return
	}
	c.JSON(http.StatusOK, profileJSON(profile))
}

func (h *Handler) handleUpdateProfile(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.repo.EnsureProfile(ctx, identity.Subject, identity.Name); err != nil {
		writeError(c, http.StatusInternalServerError, "failed to load profile", err)
		return
	}

	profile, err := h.repo.UpdateProfile(ctx, identity.Subject, req.update())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to update profile", err)
		return
	}
	c.JSON(http.StatusOK, profileJSON(profile))
}

func profileJSON(profile models.Profile) gin.H {
	return gin.H{
		"user_id":      profile.OwnerID,
		"display_name": profile.DisplayName,
		"avatar_url":   profile.AvatarURL,
		"settings":     profile.Settings,
		"created_at":   profile.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   profile.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}
