package handler

import (
	"net/http"

	"github.com/orgchat/internal/config"
)

// ConfigHandler serves public configuration for clients.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetCallConfig returns the ICE servers clients need for WebRTC calls.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers": h.cfg.CallICEServers,
	})
}
