package app

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"findsanity/internal/analysis"
	"findsanity/internal/anonymize"
	"findsanity/internal/config"
	"findsanity/internal/httpx"
	"findsanity/internal/integrations/llm"
	slackbot "findsanity/internal/integrations/slack"
	"findsanity/internal/journal"
	"findsanity/internal/moderation"
	"findsanity/internal/policy"
	"findsanity/internal/safety"
	"findsanity/internal/storage/sqlite"
	"findsanity/internal/usage"
)

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime holds everything a command needs, built from config once per
// invocation.
type runtime struct {
	cfg      config.Config
	db       *sql.DB
	policy   *policy.Policy
	gateway  *llm.Gateway
	tracker  *usage.Tracker
	notifier slackbot.Notifier
}

func openRuntime() (*runtime, error) {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s AnalysisModel=%s ModerationModel=%s Retries=%d Timeout=%s Window=%s StrikeLimit=%d Timezone=%s Policy=%q ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMAnalysisModel,
		cfg.LLMModerationModel,
		cfg.MaxRetries(),
		cfg.LLMTimeout(),
		cfg.ModerationWindow(),
		cfg.ModerationStrikeLimit,
		cfg.Timezone,
		cfg.LLMPolicyPath,
		appliedHTTPTimeout,
	)

	pol, err := policy.Load(cfg.LLMPolicyPath)
	if err != nil {
		return nil, err
	}
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)

	tracker := usage.NewTracker(db, usage.PricingFromConfig(cfg), cfg.Location)
	gw, err := llm.NewGatewayFromConfig(cfg, pol, tracker)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &runtime{
		cfg:      cfg,
		db:       db,
		policy:   pol,
		gateway:  gw,
		tracker:  tracker,
		notifier: slackbot.FromConfig(cfg),
	}, nil
}

func (r *runtime) Close() error {
	return r.db.Close()
}

func (r *runtime) anonymizer() *anonymize.Anonymizer {
	return anonymize.New(r.gateway, r.policy)
}

func (r *runtime) safety() *safety.Evaluator {
	return safety.NewEvaluator(r.gateway, r.policy, r.anonymizer())
}

func (r *runtime) moderator() *moderation.Evaluator {
	return moderation.NewEvaluator(r.gateway)
}

func (r *runtime) gate() *moderation.Gate {
	return moderation.NewGate(r.moderator(), sqlite.Store{DB: r.db}, moderation.GateOptions{
		Window:    r.cfg.ModerationWindow(),
		Threshold: r.cfg.ModerationStrikeLimit,
		Notifier:  r.notifier,
	})
}

func (r *runtime) journal() *journal.Service {
	return journal.NewService(r.db, analysis.NewOrchestrator(r.gateway, r.policy), r.gate())
}
