package api

import (
	"encoding/json"
	"net/http"
	"time"

	"shipsync/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             s.Cfg.Port,
			"API_BASE_URL":     s.Cfg.APIBaseURL,
			"PUBLIC_BASE_URL":  s.Cfg.PublicBaseURL,
			"WEIGHT_UNIT":      s.Cfg.WeightUnit,
			"DIMENSION_UNIT":   s.Cfg.DimensionUnit,
			"RATE_RPS":         s.Cfg.RateRPS,
			"RATE_BURST":       s.Cfg.RateBurst,
			"HAS_DATABASE_URL": s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":    s.Cfg.RedisURL != "",
			"HAS_ACCESS_KEY":   s.Cfg.AccessKey != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
