package main

import (
	"context"
	"log"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	adconfig "github.com/voicetyped/adaptive/config"
	"github.com/voicetyped/adaptive/internal/connectutil"
	dialoghandler "github.com/voicetyped/adaptive/internal/dialog/handler"
	"github.com/voicetyped/adaptive/pkg/dialog"
	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/hooks"
	"github.com/voicetyped/adaptive/pkg/recognizer"
	"github.com/voicetyped/adaptive/pkg/schema"
	"github.com/voicetyped/adaptive/pkg/storage"
)

const datastorePoolName = "__default__pool_name__"

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[adconfig.DialogConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	serviceOpts := []frame.Option{
		frame.WithConfig(&cfg),
		frame.WithName("adaptive-dialog"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithRegisterPublisher(eventRef, eventURL),
	}
	if cfg.StateBackend == "datastore" {
		serviceOpts = append(serviceOpts, frame.WithDatastore())
	}
	ctx, srv := frame.NewService(serviceOpts...)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)

	pub := events.NewPublisher(srv.QueueManager(), "dialog", eventRef)

	var hookOpts []hooks.Option
	if cfg.AllowPrivateHooks {
		hookOpts = append(hookOpts, hooks.AllowPrivateIPs())
	}
	hookExec := hooks.NewExecutor(pub, hookOpts...)

	store, err := openStore(ctx, srv, &cfg)
	if err != nil {
		log.Fatalf("opening state store: %v", err)
	}

	schemas := schema.NewLoader(cfg.SchemaDir)
	if _, err := schemas.LoadAll(); err != nil {
		util.Log(ctx).WithError(err).Warn("loading schemas")
	}
	watch := func() {
		if err := schemas.WatchAndReload(ctx.Done()); err != nil {
			util.Log(ctx).WithError(err).Warn("schema watcher stopped")
		}
	}
	if err := pool.Submit(ctx, watch); err != nil {
		go watch()
	}

	registry := recognizer.NewRegistry()
	recognizer.RegisterBuiltins(registry, hookExec)
	rec, err := registry.Get(cfg.RecognizerBackend, cfg.RecognizerConfig())
	if err != nil {
		util.Log(ctx).WithError(err).Warn("recognizer unavailable, falling back to none")
		if rec, err = registry.Get("none", nil); err != nil {
			log.Fatalf("creating recognizer: %v", err)
		}
	}

	root := sandwichDialog(sampleOptions{
		recognizer: rec,
		schemas:    schemas,
		selector:   dialog.SelectorByName(cfg.TriggerSelector, cfg.SelectorSeed),
		autoEnd:    cfg.AutoEndDialog,
		orderHook: hooks.Config{
			URL:        cfg.OrderHookURL,
			AuthType:   authTypeFor(cfg.OrderHookSecret),
			AuthSecret: cfg.OrderHookSecret,
			TimeoutSec: 10,
		},
	})
	manager := dialog.NewManager(store, root,
		dialog.WithPublisher(pub),
		dialog.WithHookExecutor(hookExec),
		dialog.WithDialog(helpDialog()),
	)

	handler := dialoghandler.NewDialogHandler(manager, pool, dialoghandler.Options{
		ConversationTTL: cfg.ConversationTTL(),
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	opts, err := connectutil.AuthenticatedOptions(ctx, authenticator)
	if err != nil {
		log.Fatalf("setting up auth interceptors: %v", err)
	}
	path, hdlr := dialoghandler.NewDialogServiceHandler(handler, opts...)
	mux.Handle(path, hdlr)

	handler.StartReaper(ctx)

	srv.Init(ctx, frame.WithHTTPHandler(connectutil.H2CHandler(mux)))

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}

// openStore returns the conversation state backend named by STATE_BACKEND.
func openStore(ctx context.Context, srv *frame.Service, cfg *adconfig.DialogConfig) (storage.Store, error) {
	switch cfg.StateBackend {
	case "redis":
		return storage.NewRedisStore(ctx, storage.RedisOptions{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.ConversationTTL(),
		})
	case "datastore":
		ds := storage.NewDatastoreStore(srv.DatastoreManager().GetPool(ctx, datastorePoolName))
		if err := ds.Migrate(ctx); err != nil {
			return nil, err
		}
		return ds, nil
	default:
		return storage.NewMemoryStore(cfg.ConversationTTL()), nil
	}
}

func authTypeFor(secret string) string {
	if secret == "" {
		return "none"
	}
	return "hmac"
}
