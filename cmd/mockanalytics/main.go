// mockanalytics is a standalone stand-in for the funnel and cohort analysis
// services, useful for local runs and demos. Numbers are synthetic but
// internally consistent: a cohort request must reference a funnel this
// process produced, and step names line up with that funnel.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/funnelscope/server/internal/agent/model"
	logx "github.com/funnelscope/server/pkg/logger"
)

type funnelRequest struct {
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	FunnelSteps []string `json:"funnel_steps"`
	UserSegment string   `json:"user_segment"`
}

type cohortRequest struct {
	FunnelID  string `json:"funnel_id"`
	StepIndex int    `json:"step_index"`
}

type server struct {
	mu      sync.Mutex
	funnels map[string]*model.FunnelResult
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logx.Init()

	s := &server{funnels: make(map[string]*model.FunnelResult)}

	r := chi.NewRouter()
	r.Post("/api/funnel-analysis", s.handleFunnel)
	r.Post("/api/cohort-analysis", s.handleCohort)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	logx.Info().Str("addr", *addr).Msg("Mock analytics service listening")
	if err := http.ListenAndServe(*addr, r); err != nil {
		logx.Fatal().Err(err).Msg("Mock analytics service failed")
	}
}

func (s *server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	var req funnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.FunnelSteps) < 2 {
		writeError(w, http.StatusBadRequest, "funnel_steps must contain at least 2 steps")
		return
	}
	if req.StartDate == "" || req.EndDate == "" {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}

	total := 5000 + rand.Intn(10000)
	users := total
	steps := make([]model.FunnelStep, 0, len(req.FunnelSteps))
	for i, name := range req.FunnelSteps {
		if i > 0 {
			retained := 0.35 + rand.Float64()*0.55
			dropped := users - int(float64(users)*retained)
			users -= dropped
			steps = append(steps, model.FunnelStep{
				StepIndex:      i,
				Name:           name,
				Users:          users,
				ConversionRate: round2(float64(users) / float64(total) * 100),
				DropOff:        &dropped,
			})
			continue
		}
		steps = append(steps, model.FunnelStep{
			StepIndex:      i,
			Name:           name,
			Users:          users,
			ConversionRate: 100,
		})
	}

	result := &model.FunnelResult{
		FunnelID:          "fnl_" + uuid.NewString()[:8],
		Steps:             steps,
		OverallConversion: round2(float64(users) / float64(total) * 100),
		TotalUsers:        total,
		DateRange:         model.DateRange{Start: req.StartDate, End: req.EndDate},
	}

	s.mu.Lock()
	s.funnels[result.FunnelID] = result
	s.mu.Unlock()

	logx.Info().Str("funnel_id", result.FunnelID).Int("steps", len(steps)).Msg("Funnel analysis served")
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleCohort(w http.ResponseWriter, r *http.Request) {
	var req cohortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	funnel, ok := s.funnels[req.FunnelID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown funnel_id %q", req.FunnelID))
		return
	}
	if req.StepIndex < 0 || req.StepIndex >= len(funnel.Steps) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("step_index must be between 0 and %d", len(funnel.Steps)-1))
		return
	}

	step := funnel.Steps[req.StepIndex]
	dropped := 0
	if step.DropOff != nil {
		dropped = *step.DropOff
	}

	result := model.CohortResult{
		StepName:  step.Name,
		StepIndex: step.StepIndex,
		Converted: model.CohortGroup{
			Count: step.Users,
			Characteristics: map[string]any{
				"avg_session_minutes": round2(4 + rand.Float64()*8),
				"top_platform":        "ios",
				"returning_users_pct": round2(40 + rand.Float64()*35),
			},
		},
		Dropped: model.CohortGroup{
			Count: dropped,
			Characteristics: map[string]any{
				"avg_session_minutes": round2(1 + rand.Float64()*3),
				"top_platform":        "android",
				"returning_users_pct": round2(5 + rand.Float64()*20),
			},
		},
		Insights: model.CohortInsights{
			KeyDifferences: []string{
				"Converted users spent noticeably longer per session before this step",
				"Dropped users were mostly first-time visitors",
				fmt.Sprintf("Drop-off at %q is concentrated in the first day of the range", step.Name),
			},
		},
	}

	logx.Info().Str("funnel_id", req.FunnelID).Int("step_index", req.StepIndex).Msg("Cohort analysis served")
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
