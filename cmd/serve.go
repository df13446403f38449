package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/callcoach/internal/coach"
	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/rescore"
	"github.com/sells-group/callcoach/internal/scorer"
	"github.com/sells-group/callcoach/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoring HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fw, err := loadFramework("")
		if err != nil {
			return err
		}
		lib, err := loadPivots()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		api := &apiServer{
			store:     st,
			framework: fw,
			pivots:    lib,
			resolve:   frameworkResolver(fw),
			orch:      rescore.New(st, st, frameworkResolver(fw)),
			// Submissions are the expensive path, so only they are limited.
			submits: rate.NewLimiter(rate.Limit(float64(cfg.Server.SubmitsPerMinute)/60.0), cfg.Server.SubmitsPerMinute),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGraceSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	store     store.Store
	framework scorer.Framework
	pivots    *coach.PivotLibrary
	resolve   rescore.FrameworkResolver
	orch      *rescore.Orchestrator
	submits   *rate.Limiter
}

func (a *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)
	r.Route("/calls", func(r chi.Router) {
		r.Post("/", a.handleCreateCall)
		r.Get("/", a.handleListCalls)
		r.Route("/{callID}", func(r chi.Router) {
			r.Get("/", a.handleGetCall)
			r.Get("/coaching", a.handleCoaching)
			r.Get("/history", a.handleHistory)
			r.Post("/rescore", a.handleRescore)
		})
	})
	r.Get("/pivots/{stepKey}", a.handlePivots)
	r.Get("/versions", a.handleListVersions)

	return r
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	if !a.submits.Allow() {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req struct {
		Transcript string `json:"transcript"`
		Rep        string `json:"rep"`
		Rules      string `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A submission follows the active rule version unless the request names
	// a rules label itself. The version reference is stored only when that
	// version's rules produced the score.
	label := req.Rules
	var version *model.RuleVersion
	if label == "" {
		if active, err := a.store.ActiveRuleVersion(r.Context()); err == nil {
			version = active
			label = ruleLabelOf(active)
		} else {
			label = cfg.Scoring.DefaultRules
		}
	}

	fw := a.framework
	if version != nil {
		if resolved, ok := a.resolve(version.FrameworkVersion); ok {
			fw = resolved
		}
	}

	sc := scorer.New(scorer.RulesFor(label))
	breakdown, err := sc.Score(req.Transcript, fw)
	if err != nil {
		var invalid *scorer.InvalidInputError
		if eris.As(err, &invalid) {
			respondError(w, http.StatusUnprocessableEntity, invalid.Error())
			return
		}
		a.internalError(w, r, err)
		return
	}

	frameworkVersion := fw.Version
	call := &model.Call{
		Rep:              req.Rep,
		Transcript:       req.Transcript,
		Breakdown:        *breakdown,
		Total:            breakdown.Total,
		FrameworkVersion: &frameworkVersion,
	}
	if version != nil {
		call.RuleVersionID = &version.ID
	}

	if err := a.store.CreateCall(r.Context(), call); err != nil {
		a.internalError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, call)
}

func (a *apiServer) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CallFilter{
		FrameworkVersion: q.Get("framework_version"),
		MinTotal:         intParam(q.Get("min_total")),
		MaxTotal:         intParam(q.Get("max_total")),
		Limit:            intParam(q.Get("limit")),
		Offset:           intParam(q.Get("offset")),
	}

	calls, err := a.store.ListCalls(r.Context(), filter)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if calls == nil {
		calls = []model.Call{}
	}
	respondJSON(w, http.StatusOK, calls)
}

func (a *apiServer) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := a.store.GetCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call not found")
			return
		}
		a.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, call)
}

func (a *apiServer) handleCoaching(w http.ResponseWriter, r *http.Request) {
	call, err := a.store.GetCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call not found")
			return
		}
		a.internalError(w, r, err)
		return
	}

	analysis := coach.Analyze(&call.Breakdown)
	respondJSON(w, http.StatusOK, struct {
		CallID   string             `json:"call_id"`
		Total    int                `json:"total"`
		Analysis coach.Analysis     `json:"analysis"`
		Pivots   []coach.Suggestion `json:"pivots"`
	}{
		CallID:   call.ID,
		Total:    call.Total,
		Analysis: analysis,
		Pivots:   a.pivots.ForImprovements(analysis),
	})
}

func (a *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if _, err := a.store.GetCall(r.Context(), callID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call not found")
			return
		}
		a.internalError(w, r, err)
		return
	}

	entries, err := a.store.ListHistory(r.Context(), callID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (a *apiServer) handleRescore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID string `json:"version_id"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := a.orch.Rescore(r.Context(), chi.URLParam(r, "callID"), req.VersionID)
	if err != nil {
		var (
			unknownCall    *rescore.UnknownCallError
			unknownVersion *rescore.UnknownRuleVersionError
			scoringFailed  *rescore.ScoringFailedError
		)
		switch {
		case eris.As(err, &unknownCall):
			respondError(w, http.StatusNotFound, unknownCall.Error())
		case eris.As(err, &unknownVersion):
			respondError(w, http.StatusNotFound, unknownVersion.Error())
		case eris.As(err, &scoringFailed):
			respondError(w, http.StatusUnprocessableEntity, scoringFailed.Error())
		default:
			a.internalError(w, r, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (a *apiServer) handlePivots(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.pivots.Suggest(chi.URLParam(r, "stepKey")))
}

func (a *apiServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := a.store.ListRuleVersions(r.Context())
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if versions == nil {
		versions = []model.RuleVersion{}
	}
	respondJSON(w, http.StatusOK, versions)
}

func (a *apiServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func intParam(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
