package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ayusman/facecam/internal/app"
	"github.com/ayusman/facecam/internal/store"
)

// SettingsKey is the settings table key holding the runtime settings.
const SettingsKey = "runtime"

// SettingsService reads and applies runtime settings.
type SettingsService interface {
	Settings() app.Settings
	ApplySettings(app.Settings) error
}

// SettingsHandler handles GET and PUT /api/settings.
type SettingsHandler struct {
	service SettingsService
	store   *store.Store
}

// NewSettingsHandler creates a SettingsHandler. A nil store disables
// persistence.
func NewSettingsHandler(service SettingsService, s *store.Store) *SettingsHandler {
	return &SettingsHandler{service: service, store: s}
}

// ServeHTTP implements the http.Handler interface.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.service.Settings())
	case http.MethodPut:
		h.update(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// update handles PUT /api/settings. Fields missing from the body keep their
// current values.
func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	settings := h.service.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.service.ApplySettings(settings); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, validationMessage(verrs))
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to apply settings")
		return
	}

	if h.store != nil {
		if err := h.store.Settings().SetJSON(SettingsKey, settings); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
	}

	writeJSON(w, http.StatusOK, h.service.Settings())
}

func validationMessage(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "Invalid settings"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: failed %s", fe.Namespace(), fe.Tag())
}

// RestoreSettings applies settings saved by an earlier run. A store without
// saved settings is not an error.
func RestoreSettings(s *store.Store, service SettingsService) error {
	settings := service.Settings()
	if err := s.Settings().GetJSON(SettingsKey, &settings); err != nil {
		if errors.Is(err, store.ErrSettingNotFound) {
			return nil
		}
		return err
	}
	return service.ApplySettings(settings)
}
