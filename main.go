package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justmike1/triagebot/commands"
	"github.com/justmike1/triagebot/config"
	"github.com/justmike1/triagebot/conversation"
	"github.com/justmike1/triagebot/github"
	"github.com/justmike1/triagebot/intake"
	"github.com/justmike1/triagebot/llm"
	"github.com/justmike1/triagebot/notify"
	"github.com/justmike1/triagebot/prompts"
	triageslack "github.com/justmike1/triagebot/slack"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promptStore, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load prompts")
	}

	// Interfaces stay nil when GitHub is not configured so handlers can
	// report it per request.
	var (
		cmdTracker    commands.Tracker
		intakeTracker intake.Tracker
	)
	ghClient, err := github.NewFromConfig(cfg)
	switch {
	case err == nil:
		cmdTracker, intakeTracker = ghClient, ghClient
		log.Info().Str("repo", ghClient.Repo()).Msg("GitHub tracker configured")
	case errors.Is(err, config.ErrNotConfigured):
		log.Warn().Err(err).Msg("GitHub tracker disabled")
	default:
		log.Fatal().Err(err).Msg("failed to create GitHub client")
	}

	model, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create LLM client")
	}
	switch {
	case model == nil:
		log.Warn().Msg("no LLM backend configured, chat replies are disabled")
	case cfg.UseGemini():
		log.Info().Str("model", cfg.GeminiModel).Msg("using Gemini backend")
	default:
		log.Info().Str("model", cfg.LLMModel).Msg("using chat completions backend")
	}

	cache, closeStore, err := newConversationCache(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up conversation store")
	}
	defer closeStore()

	workflows := commands.Workflows{Deploy: cfg.DeployWorkflow, Autofix: cfg.AutofixWorkflow}
	router := commands.NewRouter(cmdTracker, workflows)
	actionRouter := commands.NewActionRouter(cmdTracker, workflows)
	slackClient := triageslack.NewClient(cfg.SlackBotToken)
	chat := commands.NewChatHandler(cache, model, slackClient, promptStore)

	dispatcher := notify.NewDispatcher(cfg.WebhookFor)
	intakeHandler := intake.NewHandler(intakeTracker, dispatcher, cfg.IntakeRatePerMinute)

	var commandsHandler, actionsHandler, eventsHandler http.Handler
	if cfg.SlackConfigured() {
		verifier := triageslack.NewVerifier(cfg.SlackSigningSecret)
		commandsHandler = triageslack.NewHandler(verifier, router.Handle)
		actionsHandler = triageslack.NewInteractionsHandler(verifier, actionRouter.Handle)
		eventsHandler = triageslack.NewEventsHandler(verifier, chat.Handle)
	} else {
		log.Warn().Msg("SLACK_SIGNING_SECRET or SLACK_BOT_TOKEN missing, Slack endpoints answer 500")
		commandsHandler = notConfigured("Slack")
		actionsHandler = commandsHandler
		eventsHandler = commandsHandler
	}

	if cfg.SocketModeEnabled() {
		listener := triageslack.NewSocketListener(cfg.SlackAppToken, cfg.SlackBotToken, router.Handle, actionRouter.Handle, chat.Handle)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("socket mode listener stopped")
			}
		}()
	}

	browser := func(h http.Handler) http.Handler {
		return withCORS(cfg.CORSAllowedOrigins, postOnly(h))
	}

	mux := http.NewServeMux()
	mux.Handle("/report-error", browser(http.HandlerFunc(intakeHandler.ReportError)))
	mux.Handle("/submit-feedback", browser(http.HandlerFunc(intakeHandler.SubmitFeedback)))
	mux.Handle("/slack-notify", browser(ipAllowlist(cfg.NotifyAllowedCIDRs, notify.NewHandler(dispatcher))))
	mux.Handle("/slack-commands", commandsHandler)
	mux.Handle("/slack-actions", actionsHandler)
	mux.Handle("/slack-claude", eventsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withRequestLog(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("triagebot server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func setupLogging(level, format string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// newConversationCache selects the store named by CONVERSATION_STORE. The
// returned func releases it.
func newConversationCache(ctx context.Context, cfg *config.Config) (*conversation.Cache, func(), error) {
	if cfg.ConversationStore == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("conversation store: redis")
		store := conversation.NewRedisStore(rdb, cfg.ConversationTTL)
		return conversation.NewCache(store, conversation.WithTTL(cfg.ConversationTTL)), func() { _ = rdb.Close() }, nil
	}

	store, err := conversation.NewMemoryStore(conversation.DefaultMaxKeys)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Msg("conversation store: memory")
	return conversation.NewCache(store, conversation.WithTTL(cfg.ConversationTTL)), func() {}, nil
}

// notConfigured answers every request with a generic 500.
func notConfigured(what string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Ctx(r.Context()).Error().Str("component", what).Msg("request rejected, component not configured")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "server misconfigured"})
	})
}
