package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/auroraid/apiserver/config"
	"github.com/auroraid/apiserver/internal/credentials"
	"github.com/auroraid/apiserver/internal/db"
	"github.com/auroraid/apiserver/internal/kv"
	"github.com/auroraid/apiserver/internal/mq"
	"github.com/auroraid/apiserver/internal/notify"
	"github.com/auroraid/apiserver/internal/services"
	"github.com/auroraid/apiserver/internal/storage"
	"github.com/auroraid/apiserver/internal/store"
	"github.com/auroraid/apiserver/internal/verification"
)

// Dependencies holds the long-lived components shared by the commands.
type Dependencies struct {
	Store kv.Store
	Auth  *services.AuthService
	Admin *services.AdminService

	closers []func() error
}

// Close releases everything Wire opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Wire opens the configured store and mail delivery and builds the services.
func Wire(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	kvStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = kvStore
	deps.closers = append(deps.closers, kvStore.Close)

	sender, closeSender, err := NewSender(ctx, cfg)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	if closeSender != nil {
		deps.closers = append(deps.closers, closeSender)
	}

	source, err := NewTemplateSource(ctx, cfg)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	renderer, err := notify.NewRenderer(source, cfg.Mail.ProductName)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	gateway := notify.NewGateway(renderer, sender, cfg.Mail.Locale, cfg.Auth.CodeTTL)

	users := store.NewUserRepository(kvStore)
	codes := store.NewCodeRepository(kvStore)
	deps.Auth = services.NewAuthService(
		users,
		verification.NewManager(codes, cfg.Auth.CodeLength, cfg.Auth.CodeTTL),
		credentials.NewManager(cfg.Auth.BcryptCost, cfg.Auth.PasswordLength),
		gateway,
	)
	deps.Admin = services.NewAdminService(users, codes)

	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("mail_delivery", cfg.Mail.Delivery).
		Str("templates", cfg.Templates.Source).
		Msg("dependencies ready")
	return deps, nil
}

// OpenStore connects to the key-value backend named by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		return kv.NewRedisStore(ctx, cfg.Redis, cfg.Store.Timeout)
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return kv.NewPostgresStore(conn, cfg.Store.Timeout), nil
	case config.StoreBackendMemory:
		return kv.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// NewSender returns the mail sender for MAIL_DELIVERY and a closer for any
// broker connection it opened.
func NewSender(ctx context.Context, cfg config.Config) (notify.Sender, func() error, error) {
	switch cfg.Mail.Delivery {
	case config.MailDeliverySMTP:
		return notify.NewSMTPSender(cfg.SMTP), nil, nil
	case config.MailDeliveryQueue:
		backend, err := mq.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewQueueSender(backend, cfg.Mail.QueueName), backend.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown mail delivery %q", cfg.Mail.Delivery)
	}
}

// NewTemplateSource returns the embedded templates or a bucket-backed source
// for TEMPLATES_SOURCE.
func NewTemplateSource(ctx context.Context, cfg config.Config) (notify.TemplateSource, error) {
	if cfg.Templates.Source == config.TemplateSourceEmbedded {
		return notify.EmbeddedTemplates{}, nil
	}
	objects, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return notify.NewBucketTemplates(objects, cfg.Templates.Prefix), nil
}
