// Command registrar runs the registration engine's HTTP and streaming
// server, wiring every package together with go.uber.org/fx the way the
// teacher's cmd/esp wires ExamSeatPlanner.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"

	"github.com/campusreg/registrar/internal/allocation"
	"github.com/campusreg/registrar/internal/authz"
	"github.com/campusreg/registrar/internal/bootstrap"
	"github.com/campusreg/registrar/internal/cache"
	"github.com/campusreg/registrar/internal/config"
	"github.com/campusreg/registrar/internal/eventbus"
	"github.com/campusreg/registrar/internal/facade"
	"github.com/campusreg/registrar/internal/registration"
	"github.com/campusreg/registrar/internal/scoring"
	"github.com/campusreg/registrar/internal/store"
	"github.com/campusreg/registrar/internal/store/mongostore"
)

func main() {
	bootstrap.Loadenv()
	app := fx.New(
		fx.Provide(
			config.Load,
			newMongoClient,
			newMongoStore,
			newRedisClient,
			cache.New,
			eventbus.New,
			newScoringEngine,
			newAllocationEngine,
			newEnforcer,
			newRegistrationService,
			facade.NewHandler,
			newEcho,
		),
		fx.Invoke(registerRoutes),
	)
	app.Run()
}

// newMongoClient connects and verifies the MongoDB client on startup,
// closing it on shutdown, mirroring the teacher's NewMongoDBClient.
func newMongoClient(lc fx.Lifecycle, cfg config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	log.Println("registrar: connected to MongoDB")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Println("registrar: closing MongoDB connection")
			return client.Disconnect(ctx)
		},
	})
	return client, nil
}

func newMongoStore(client *mongo.Client, cfg config.Config) store.Store {
	return mongostore.New(client, client.Database(cfg.MongoDB))
}

// newRedisClient builds the waitlist read-through cache's backing client.
// The client is not pinged here, so a Redis outage is not fatal at
// startup: each cache.WaitlistCache call handles its own Redis error
// (logged on writes, reported as a miss on reads).
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return rdb, nil
}

func newScoringEngine(cfg config.Config) (*scoring.Engine, error) {
	return scoring.New(cfg.Weights(), cfg.TimeDecayLambda)
}

func newAllocationEngine(cfg config.Config) (*allocation.Engine, error) {
	strategy, err := allocation.ParseStrategy(cfg.AllocationStrategy)
	if err != nil {
		return nil, err
	}
	return allocation.New(strategy)
}

func newEnforcer(cfg config.Config) (*casbin.Enforcer, error) {
	return authz.NewEnforcer(cfg.CasbinPolicyPath)
}

func newRegistrationService(st store.Store, bus *eventbus.Bus, wcache *cache.WaitlistCache, scorer *scoring.Engine, alloc *allocation.Engine) *registration.Service {
	return registration.New(st, bus, wcache, scorer, alloc, nil)
}

func newEcho(lc fx.Lifecycle, cfg config.Config) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	port := fmt.Sprintf(":%d", cfg.HTTPPort)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(port); err != nil && err != http.ErrServerClosed {
					log.Fatalf("registrar: server failed: %v", err)
				}
			}()
			log.Println("registrar: listening on http://localhost" + port)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Println("registrar: shutting down server")
			return e.Shutdown(ctx)
		},
	})
	return e
}

func registerRoutes(e *echo.Echo, h *facade.Handler, cfg config.Config, enforcer *casbin.Enforcer) {
	jwtMW := authz.JWTMiddleware([]byte(cfg.JWTSigningKey))
	roleMW := authz.RequireRole(enforcer)
	facade.RegisterRoutes(e, h, jwtMW, roleMW, cfg.RequestTimeout())
}
