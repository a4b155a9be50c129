//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/hirekarma/feature-access-service/internal/app"
	"github.com/hirekarma/feature-access-service/internal/config"
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideDB,
		ProvideRedisClient,
		ProvideNATSConn,
		ProvideJWTManager,
		ProvideViewCache,
		ProvideFeatureAccessService,
		ProvideDBIdempotencyStore,
		ProvideIdempotencyStore,
		ProvideLimiter,
		ProvideSubscriber,
		ProvideReadyCheck,
		ProvideRouter,
		ProvideObservabilityRuntime,
		app.New,
	)
	return nil, nil, nil
}
