package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"paybook/internal/auth/events"
	"paybook/internal/auth/password"
	authservice "paybook/internal/auth/service"
	"paybook/internal/auth/store/revocation"
	sessionstore "paybook/internal/auth/store/session"
	"paybook/internal/auth/store/user"
	"paybook/internal/auth/token"
	bankmetrics "paybook/internal/banking/metrics"
	bankservice "paybook/internal/banking/service"
	bankstore "paybook/internal/banking/store"
	"paybook/internal/outbox"
	"paybook/internal/platform/config"
	"paybook/internal/platform/httpserver"
	"paybook/internal/platform/kafka"
	"paybook/internal/platform/logger"
	"paybook/internal/platform/metrics"
	"paybook/internal/platform/postgres"
	platformredis "paybook/internal/platform/redis"
	httptransport "paybook/internal/transport/http"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/platform/audit/publishers/compliance"
	"paybook/pkg/platform/audit/publishers/security"
	auditmemory "paybook/pkg/platform/audit/store/memory"
	auditpostgres "paybook/pkg/platform/audit/store/postgres"
	"paybook/pkg/platform/circuit"
	txcontext "paybook/pkg/platform/tx"
)

const (
	shutdownTimeout   = 10 * time.Second
	revocationPurge   = time.Hour
	transferTopicSize = 3
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	if !cfg.DemoMode && cfg.JWTSigningKey == config.DefaultJWTSigningKey {
		return errors.New("JWT_SIGNING_KEY must be set outside DEMO_MODE")
	}

	reg := prometheus.DefaultRegisterer
	platformMetrics := metrics.New(reg)

	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	st := newStores(cfg, in, log)
	group, ctx := errgroup.WithContext(ctx)

	// Compliance events must persist with the change; security events are
	// buffered and flushed in the background.
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if in.db != nil {
		auditStore = auditpostgres.New(in.db)
	}
	compliancePublisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	securityPublisher := security.New(auditStore, security.WithLogger(log))
	defer securityPublisher.Close()

	banking := bankservice.New(st.accounts, st.contacts, st.transactions, st.tx,
		bankservice.WithLogger(log),
		bankservice.WithAuditPublisher(compliancePublisher),
		bankservice.WithMetrics(bankmetrics.New(reg)),
	)

	hashCost := bcrypt.DefaultCost
	if cfg.DemoMode {
		hashCost = bcrypt.MinCost
	}
	auth := authservice.New(
		st.users, st.sessions, st.trl,
		token.NewJWTService(cfg.JWTSigningKey, "paybook", "paybook-api"),
		password.NewHasher(hashCost),
		st.broker,
		banking,
		authservice.Config{TokenTTL: cfg.TokenTTL, SessionTTL: cfg.SessionTTL},
		authservice.WithLogger(log),
		authservice.WithComplianceAuditor(compliancePublisher),
		authservice.WithSecurityAuditor(securityPublisher),
		authservice.WithMetrics(platformMetrics),
	)

	if purger, ok := st.trl.(*revocation.PostgresTRL); ok {
		group.Go(func() error { return purgeRevocations(ctx, purger, log) })
	}
	if relay := newRelay(ctx, cfg, in, reg, log); relay != nil {
		group.Go(func() error { return relay.Run(ctx) })
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:         auth,
		Banking:      banking,
		Logger:       log,
		Metrics:      platformMetrics,
		Gatherer:     prometheus.DefaultGatherer,
		HealthChecks: in.healthChecks(),
	})
	srv := httpserver.New(cfg.Addr, router)
	log.InfoContext(ctx, "starting paybook",
		"addr", cfg.Addr,
		"postgres", in.db != nil,
		"redis", in.redis != nil,
		"kafka", in.kafka != nil,
		"demo_mode", cfg.DemoMode,
	)
	group.Go(func() error { return httpserver.Run(ctx, srv, log, shutdownTimeout) })
	return group.Wait()
}

type infra struct {
	db      *sql.DB
	redis   *platformredis.Client
	kafka   *kafka.Producer
	closers []func()
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			in.close()
			return nil, err
		}
		in.db = db
	}

	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		in.close()
		return nil, err
	}
	if client != nil {
		in.redis = client
		in.closers = append(in.closers, func() { _ = client.Close() })
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if in.db == nil {
			log.WarnContext(ctx, "KAFKA_BROKERS ignored: the outbox relay needs DATABASE_URL")
			return in, nil
		}
		kc, err := kafka.NewClient(cfg.Kafka)
		if err != nil {
			in.close()
			return nil, err
		}
		in.closers = append(in.closers, kc.Close)
		if err := kafka.EnsureTopic(ctx, kc, cfg.Kafka.TransfersTopic, transferTopicSize, 1); err != nil {
			log.WarnContext(ctx, "kafka topic bootstrap failed", "topic", cfg.Kafka.TransfersTopic, "error", err)
		}
		in.kafka = kafka.NewProducer(kc, cfg.Kafka.TransfersTopic)
	}
	return in, nil
}

func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

func (in *infra) healthChecks() []httptransport.HealthCheck {
	var checks []httptransport.HealthCheck
	if in.db != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "postgres", Check: in.db.PingContext})
	}
	if in.redis != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Check: in.redis.Health})
	}
	if in.kafka != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "kafka", Check: in.kafka.Health})
	}
	return checks
}

type stores struct {
	accounts     bankservice.AccountStore
	contacts     bankservice.ContactStore
	transactions bankservice.TransactionStore
	tx           bankservice.TxRunner

	users    authservice.UserStore
	sessions authservice.SessionStore
	trl      authservice.RevocationList
	broker   authservice.EventBroker
}

// newStores keeps data in PostgreSQL when it is configured and in process
// memory otherwise. Redis, when present, takes over sessions, revocation and
// session events.
func newStores(cfg config.Server, in *infra, log *slog.Logger) stores {
	st := stores{
		users:    newUserStore(in),
		sessions: newSessionStore(in),
		trl:      newRevocationList(in),
		broker:   newEventBroker(in, log),
	}
	if in.db != nil {
		st.accounts = bankstore.NewPostgresAccounts(in.db)
		st.contacts = bankstore.NewPostgresContacts(in.db)
		st.transactions = bankstore.NewPostgresTransactions(in.db)
		st.tx = newTxRunner(in.db, cfg.Database.TxTimeout)
		return st
	}
	mem := bankstore.NewMemoryDB()
	st.accounts = mem.Accounts()
	st.contacts = mem.Contacts()
	st.transactions = mem.Transactions()
	st.tx = mem
	return st
}

func newTxRunner(db *sql.DB, timeout time.Duration) *txcontext.Runner {
	return txcontext.NewRunner(db, timeout)
}

func newRelay(ctx context.Context, cfg config.Server, in *infra, reg prometheus.Registerer, log *slog.Logger) *outbox.Relay {
	if in.kafka == nil {
		return nil
	}
	log.InfoContext(ctx, "outbox relay enabled", "topic", cfg.Kafka.TransfersTopic)
	return outbox.NewRelay(
		outbox.NewPostgresStore(in.db),
		newTxRunner(in.db, cfg.Database.TxTimeout),
		in.kafka,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
		outbox.WithBreaker(circuit.New("kafka", circuit.WithCooldown(15*time.Second))),
		outbox.WithInterval(cfg.Kafka.PollInterval),
		outbox.WithBatchSize(cfg.Kafka.BatchSize),
	)
}

func purgeRevocations(ctx context.Context, trl *revocation.PostgresTRL, log *slog.Logger) error {
	ticker := time.NewTicker(revocationPurge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := trl.PurgeExpired(ctx)
			if err != nil {
				log.WarnContext(ctx, "revocation purge failed", "error", err)
				continue
			}
			if n > 0 {
				log.InfoContext(ctx, "purged expired revocations", "count", n)
			}
		}
	}
}

// newEventBroker picks Redis pub/sub when configured so every API replica
// sees every session event.
func newEventBroker(in *infra, log *slog.Logger) authservice.EventBroker {
	if in.redis != nil {
		return events.NewRedisBroker(in.redis.Client, log)
	}
	return events.NewMemoryBroker(log)
}

func newSessionStore(in *infra) authservice.SessionStore {
	if in.redis != nil {
		return sessionstore.NewRedis(in.redis.Client)
	}
	return sessionstore.New()
}

func newRevocationList(in *infra) authservice.RevocationList {
	switch {
	case in.redis != nil:
		return revocation.NewRedisTRL(in.redis.Client)
	case in.db != nil:
		return revocation.NewPostgresTRL(in.db)
	default:
		return revocation.NewInMemoryTRL()
	}
}

func newUserStore(in *infra) authservice.UserStore {
	if in.db != nil {
		return user.NewPostgres(in.db)
	}
	return user.New()
}
