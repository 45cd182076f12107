// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/engine"
	"github.com/danielhkuo/converge/handlers"
	"github.com/danielhkuo/converge/middleware"
)

// Version is reported by GET /health. Set at build time with
// -ldflags "-X github.com/danielhkuo/converge/router.Version=..."
var Version = "dev"

func NewRouter(db *sql.DB, cfg cliparse.Config, eng *engine.Engine, sweeper handlers.Sweeper) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(db, cfg, eng)
	participantHandler := handlers.NewParticipantHandler(db, cfg)
	propositionHandler := handlers.NewPropositionHandler(db, cfg)
	ratingHandler := handlers.NewRatingHandler(db, cfg)
	resultsHandler := handlers.NewResultsHandler(db, cfg)
	timerHandler := handlers.NewTimerHandler(cfg, sweeper)
	healthHandler := handlers.NewHealthHandler(db, cfg, Version)

	// Operations
	mux.HandleFunc("GET /health", middleware.WithLogging(healthHandler.GetHealth))
	mux.HandleFunc("POST /process-timers", middleware.WithLogging(timerHandler.ProcessTimers))

	// Chat management (host, requires X-Host-Key)
	mux.HandleFunc("POST /chats", middleware.WithLogging(chatHandler.CreateChat))
	mux.HandleFunc("GET /chats/{id}/admin", middleware.WithLogging(chatHandler.GetChatAdmin))
	mux.HandleFunc("POST /chats/{id}/start", middleware.WithLogging(chatHandler.StartRound))
	mux.HandleFunc("POST /chats/{id}/cycles", middleware.WithLogging(chatHandler.StartCycle))
	mux.HandleFunc("POST /chats/{id}/participants/{pid}/kick", middleware.WithLogging(participantHandler.KickParticipant))

	// Participation (requires X-Participant-Token after joining)
	mux.HandleFunc("POST /join/{code}", middleware.WithLogging(participantHandler.JoinChat))
	mux.HandleFunc("POST /chats/{id}/leave", middleware.WithLogging(participantHandler.LeaveChat))
	mux.HandleFunc("POST /chats/{id}/propositions", middleware.WithLogging(propositionHandler.SubmitProposition))
	mux.HandleFunc("POST /chats/{id}/skip", middleware.WithLogging(propositionHandler.SkipProposing))
	mux.HandleFunc("POST /chats/{id}/ratings", middleware.WithLogging(ratingHandler.SubmitRatings))

	// Public state and results
	mux.HandleFunc("GET /chats/{id}", middleware.WithLogging(chatHandler.GetChat))
	mux.HandleFunc("GET /chats/{id}/results", middleware.WithLogging(resultsHandler.GetResults))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("converge API v1"))
	})

	return mux
}
