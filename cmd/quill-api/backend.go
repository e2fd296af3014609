package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/admin"
	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/config"
	"github.com/MarcoPoloResearchLab/quill/internal/database"
	"github.com/MarcoPoloResearchLab/quill/internal/ids"
	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/MarcoPoloResearchLab/quill/internal/realtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// backend holds the stores and services shared by the server and the console.
type backend struct {
	credentials *auth.CredentialStore
	profiles    *profiles.Service
	posts       *posts.Gateway
	directory   *admin.Directory
	redis       *redis.Client
	closers     []func()
}

func (b *backend) Close() {
	for index := len(b.closers) - 1; index >= 0; index-- {
		b.closers[index]()
	}
}

func openBackend(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*backend, error) {
	b := &backend{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	idProvider := ids.NewUUIDProvider()
	clock := posts.NewServerClock(time.Now)

	var (
		credentialDB *gorm.DB
		profileRepo  profiles.Repository
		postRepo     posts.Repository
	)

	switch appConfig.DatabaseDriver {
	case config.DriverSQLite, config.DriverMySQL:
		var (
			db  *gorm.DB
			err error
		)
		if appConfig.DatabaseDriver == config.DriverSQLite {
			db, err = database.OpenSQLite(appConfig.DatabasePath, logger)
		} else {
			db, err = database.OpenMySQL(appConfig.DatabaseDSN, logger)
		}
		if err != nil {
			return nil, err
		}
		b.closeGorm(db)
		credentialDB = db
		if profileRepo, err = profiles.NewGormRepository(db); err != nil {
			return nil, err
		}
		if postRepo, err = posts.NewGormRepository(db, clock); err != nil {
			return nil, err
		}
	case config.DriverMongo:
		client, err := database.ConnectMongo(ctx, appConfig.MongoURI, appConfig.MongoTimeout)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), appConfig.MongoTimeout)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})
		mongoDB := client.Database(appConfig.MongoDatabase)
		if profileRepo, err = profiles.NewMongoRepository(ctx, mongoDB.Collection(profiles.CollectionName)); err != nil {
			return nil, err
		}
		if postRepo, err = posts.NewMongoRepository(ctx, mongoDB.Collection(posts.CollectionName), clock); err != nil {
			return nil, err
		}
		if credentialDB, err = database.OpenCredentialStore(appConfig.AuthDatabasePath, logger); err != nil {
			return nil, err
		}
		b.closeGorm(credentialDB)
		logger.Info("database initialized", zap.String("driver", "mongo"), zap.String("database", appConfig.MongoDatabase))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", appConfig.DatabaseDriver)
	}

	if appConfig.RedisAddress != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		b.closers = append(b.closers, func() { _ = b.redis.Close() })
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var feed realtime.Feed = realtime.NewDispatcher()
	if appConfig.RealtimeBackend == config.RealtimeRedis {
		redisFeed, err := realtime.NewRedisFeed(realtime.RedisFeedConfig{Client: b.redis, Logger: logger})
		if err != nil {
			return nil, err
		}
		feed = redisFeed
	}

	var err error
	if b.credentials, err = auth.NewCredentialStore(auth.CredentialStoreConfig{Database: credentialDB, IDProvider: idProvider}); err != nil {
		return nil, err
	}
	if b.profiles, err = profiles.NewService(profiles.ServiceConfig{Repository: profileRepo, Logger: logger}); err != nil {
		return nil, err
	}
	if b.posts, err = posts.NewGateway(posts.GatewayConfig{
		Repository: postRepo,
		Roles:      b.profiles,
		Feed:       feed,
		IDProvider: idProvider,
		Logger:     logger,
	}); err != nil {
		return nil, err
	}
	if b.directory, err = admin.NewDirectory(admin.DirectoryConfig{Profiles: b.profiles, Posts: b.posts, Logger: logger}); err != nil {
		return nil, err
	}

	ok = true
	return b, nil
}

func (b *backend) closeGorm(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	b.closers = append(b.closers, func() { _ = sqlDB.Close() })
}
