package handler

import (
	"encoding/json"
	"net/http"
)

// HealthHandler returns a health check endpoint. The engine has no
// dependency to check, so it reports the tracked window instead.
func HealthHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := engine.Snapshot()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "healthy",
			"version":       st.Version,
			"window_status": st.WindowStatus,
			"live":          st.LiveActive,
			"settlement":    st.SettlementActive,
		})
	}
}
