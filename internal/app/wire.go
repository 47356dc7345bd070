// Package app builds the storage and mirror backends selected by config.
package app

import (
	"context"
	"fmt"
	"log"

	"fingerattend/internal/config"
	"fingerattend/internal/handler"
	"fingerattend/internal/mirror"
	"fingerattend/internal/queue"
	"fingerattend/internal/store"
)

// Mirror backend names accepted by MIRROR_BACKEND and MIRROR_FORWARD.
const (
	BackendRedis    = "redis"
	BackendFirebase = "firebase"
	BackendPostgres = "postgres"
	BackendQueue    = "queue"
	BackendNone     = "none"
)

// QueueMemory keeps queued messages in process. Only the process that
// enqueued them can drain them.
const QueueMemory = "memory"

// Backends holds the connections opened for a mirror.
type Backends struct {
	Redis *store.Redis
	DB    *store.DB
	Queue queue.Queue
}

// Close releases every open connection.
func (b *Backends) Close() {
	if b == nil {
		return
	}
	if err := b.Redis.Close(); err != nil {
		log.Printf("close redis: %v", err)
	}
	if err := b.DB.Close(); err != nil {
		log.Printf("close postgres: %v", err)
	}
}

// Health returns a check per open connection, keyed for /healthz.
func (b *Backends) Health() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{}
	if b == nil {
		return checks
	}
	if b.Redis != nil {
		checks["redis"] = b.Redis.Healthy
	}
	if b.DB != nil {
		checks["db"] = b.DB.Healthy
	}
	return checks
}

func (b *Backends) redis(cfg config.App) *store.Redis {
	if b.Redis == nil {
		b.Redis = store.NewRedis(cfg.RedisAddr)
	}
	return b.Redis
}

// OpenQueue returns the queue named by QUEUE_BACKEND.
func (b *Backends) OpenQueue(cfg config.App, logger *log.Logger) (queue.Queue, error) {
	if b.Queue != nil {
		return b.Queue, nil
	}
	switch cfg.QueueBackend {
	case QueueMemory:
		b.Queue = queue.NewInMemory(64)
	case BackendRedis, "":
		b.Queue = queue.NewRedisQueue(b.redis(cfg).Client, "", logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	return b.Queue, nil
}

// OpenMirror builds the mirror called kind and records the connections it
// needed in b.
func (b *Backends) OpenMirror(ctx context.Context, cfg config.App, kind string, logger *log.Logger) (mirror.Mirror, error) {
	switch kind {
	case BackendNone, "":
		return mirror.Noop{}, nil
	case BackendRedis:
		return mirror.NewRedis(b.redis(cfg).Client, ""), nil
	case BackendFirebase:
		if cfg.FirebaseURL == "" {
			return nil, fmt.Errorf("firebase mirror needs FIREBASE_URL")
		}
		return mirror.NewFirebase(cfg.FirebaseURL, cfg.FirebaseAuth), nil
	case BackendPostgres:
		if b.DB == nil {
			db, err := store.NewDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			b.DB = db
		}
		pg := mirror.NewPostgres(b.DB.Client)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case BackendQueue:
		if cfg.QueueBackend == QueueMemory {
			// No other process can drain it.
			return nil, fmt.Errorf("queue mirror needs a shared queue, QUEUE_BACKEND=%s has no consumer", QueueMemory)
		}
		q, err := b.OpenQueue(cfg, logger)
		if err != nil {
			return nil, err
		}
		return mirror.NewQueued(q), nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", kind)
	}
}
