package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/roundhouse/internal/broadcast"
	"github.com/zulandar/roundhouse/internal/config"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/db"
	"github.com/zulandar/roundhouse/internal/llm"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/notify/discord"
	"github.com/zulandar/roundhouse/internal/notify/slack"
	"github.com/zulandar/roundhouse/internal/pipeline"
	"github.com/zulandar/roundhouse/internal/role"
	"gorm.io/gorm"
)

// app is the fully wired engine shared by serve, run and broadcast.
type app struct {
	cfg       *config.Config
	store     conversation.Store
	db        *gorm.DB
	costs     *llm.CostTracker
	gateway   llm.Gateway
	hub       *notify.Hub
	pipeline  *pipeline.Orchestrator
	broadcast *broadcast.Orchestrator
	sweeper   *conversation.Sweeper
	closers   []func() error
}

type appOpts struct {
	Out io.Writer
	// For testing: replaces the provider router.
	Gateway llm.Gateway
}

func loadConfig(flags configFlags) (*config.Config, error) {
	if err := config.LoadEnv(flags.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(flags.path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, opts appOpts) (*app, error) {
	a := &app{cfg: cfg, hub: notify.NewHub(0)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStore(opts.Out); err != nil {
		return nil, err
	}

	var costDB *gorm.DB
	if cfg.Gateway.LogCost {
		costDB = a.db
	}
	a.costs = llm.NewCostTracker(llm.CostTrackerOpts{DB: costDB, Out: opts.Out})

	a.gateway = opts.Gateway
	if a.gateway == nil {
		gw, err := newGateway(cfg.Gateway, a.costs)
		if err != nil {
			return nil, err
		}
		a.gateway = gw
	}

	sub, err := a.subscribers()
	if err != nil {
		return nil, err
	}

	pipeRoles, err := role.NewStandard(roleOptions(cfg, a.gateway, role.PipelineProfiles(), cfg.Roles.Pipeline))
	if err != nil {
		return nil, err
	}
	a.pipeline, err = pipeline.New(pipeline.Opts{
		Store:           a.store,
		Roles:           pipeRoles,
		Subscriber:      sub,
		EngineerTimeout: cfg.Pipeline.EngineerTimeout,
		Out:             opts.Out,
	})
	if err != nil {
		return nil, err
	}

	castRoles, err := role.NewStandard(roleOptions(cfg, a.gateway, role.BroadcastProfiles(), cfg.Roles.Broadcast))
	if err != nil {
		return nil, err
	}
	a.broadcast, err = broadcast.New(broadcast.Opts{
		Store:       a.store,
		Roles:       castRoles,
		Subscriber:  sub,
		MaxDepth:    cfg.Broadcast.MaxDepth,
		MaxMessages: cfg.Broadcast.MaxMessages,
		Out:         opts.Out,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Retention.TTL > 0 {
		a.sweeper, err = conversation.NewSweeper(conversation.SweeperOpts{
			Store:    a.store,
			TTL:      cfg.Retention.TTL,
			Schedule: cfg.Retention.Schedule,
			Out:      opts.Out,
		})
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

func (a *app) openStore(out io.Writer) error {
	if a.cfg.Store.Driver == config.DriverMemory {
		a.store = conversation.NewMemoryStore()
		return nil
	}
	gormDB, err := db.Connect(a.cfg.Store)
	if err != nil {
		return err
	}
	a.db = gormDB
	a.closers = append(a.closers, func() error { return db.Close(gormDB) })
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	store, err := conversation.NewGormStore(gormDB)
	if err != nil {
		return err
	}
	a.store = store
	if out != nil {
		fmt.Fprintf(out, "Using %s conversation store\n", a.cfg.Store.Driver)
	}
	return nil
}

// newGateway builds the provider router. A provider without a key is left
// out and requests for its models fail with ErrProviderNotConfigured.
func newGateway(cfg config.GatewayConfig, costs *llm.CostTracker) (llm.Gateway, error) {
	var opts llm.RouterOpts
	if cfg.OpenAI.APIKey != "" {
		p, err := llm.NewOpenAI(providerConfig(cfg.OpenAI), costs)
		if err != nil {
			return nil, err
		}
		opts.OpenAI = p
	}
	if cfg.DeepSeek.APIKey != "" {
		p, err := llm.NewDeepSeek(providerConfig(cfg.DeepSeek), costs)
		if err != nil {
			return nil, err
		}
		opts.DeepSeek = p
	}
	return llm.NewRouter(opts), nil
}

func providerConfig(c config.ProviderConfig) llm.ProviderConfig {
	return llm.ProviderConfig{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		MaxTokens:  c.MaxTokens,
		MaxRetries: c.MaxRetries,
	}
}

func roleOptions(cfg *config.Config, gw llm.Gateway, defaults role.Profiles, override config.ProfilesConfig) role.Options {
	return role.Options{
		Gateway:            gw,
		Profiles:           defaults.Merge(profiles(override)),
		ImplementationCues: cfg.Roles.ImplementationCues,
		TestCues:           cfg.Roles.TestCues,
	}
}

func profiles(c config.ProfilesConfig) role.Profiles {
	return role.Profiles{
		PM:       role.Profile{Model: c.PM.Model, System: c.PM.System},
		Engineer: role.Profile{Model: c.Engineer.Model, System: c.Engineer.System},
		QA:       role.Profile{Model: c.QA.Model, System: c.QA.System},
	}
}

// subscribers returns the hub plus every configured external sink, each
// filtered to its configured events.
func (a *app) subscribers() (notify.Subscriber, error) {
	subs := notify.Multi{a.hub}
	sc := a.cfg.Subscribers

	if sc.Slack.Channel != "" {
		s, err := slack.New(slack.Opts{BotToken: sc.Slack.BotToken, ChannelID: sc.Slack.Channel})
		if err != nil {
			return nil, err
		}
		subs = append(subs, logged("slack", notify.Only(s, eventTypes(sc.Slack.Events)...)))
	}
	if sc.Discord.Channel != "" {
		s, err := discord.New(discord.Opts{BotToken: sc.Discord.BotToken, ChannelID: sc.Discord.Channel})
		if err != nil {
			return nil, err
		}
		subs = append(subs, logged("discord", notify.Only(s, eventTypes(sc.Discord.Events)...)))
	}
	if sc.Redis.URL != "" {
		ropts, err := redis.ParseURL(sc.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		a.closers = append(a.closers, client.Close)
		s, err := notify.NewRedisStream(notify.RedisStreamOpts{
			Client: client,
			Stream: sc.Redis.Stream,
			MaxLen: sc.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		subs = append(subs, logged("redis", notify.Only(s, eventTypes(sc.Redis.Events)...)))
	}
	if sc.Webhook.URL != "" {
		s, err := notify.NewWebhook(notify.WebhookOpts{
			URL:        sc.Webhook.URL,
			Headers:    sc.Webhook.Headers,
			Timeout:    sc.Webhook.Timeout,
			RetryCount: sc.Webhook.RetryCount,
		})
		if err != nil {
			return nil, err
		}
		subs = append(subs, logged("webhook", notify.Only(s, eventTypes(sc.Webhook.Events)...)))
	}
	return subs, nil
}

func eventTypes(names []string) []notify.EventType {
	types := make([]notify.EventType, 0, len(names))
	for _, n := range names {
		types = append(types, notify.EventType(n))
	}
	return types
}

// logged reports delivery failures and swallows them so one sink never
// affects another.
func logged(name string, sub notify.Subscriber) notify.Subscriber {
	return notify.SubscriberFunc(func(ctx context.Context, evt notify.Event) error {
		if err := sub.Notify(ctx, evt); err != nil {
			log.Printf("notify: %s: %v", name, err)
		}
		return nil
	})
}

// missingKeys lists the providers missing an API key.
func missingKeys(cfg config.GatewayConfig) []string {
	var missing []string
	if cfg.OpenAI.APIKey == "" {
		missing = append(missing, cfg.OpenAI.APIKeyEnv)
	}
	if cfg.DeepSeek.APIKey == "" {
		missing = append(missing, cfg.DeepSeek.APIKeyEnv)
	}
	return missing
}

func (a *app) warnMissingKeys(out io.Writer) {
	if missing := missingKeys(a.cfg.Gateway); len(missing) > 0 {
		fmt.Fprintf(out, "Warning: %s not set; affected roles will use fallback replies\n", strings.Join(missing, ", "))
	}
}

// Close releases the database and Redis connections.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
