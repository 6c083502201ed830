package main

import (
	"github.com/hanmadi-app/hanmadi_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// @title Hanmadi API
// @version 1.0
// @description Korean tutoring chat service front
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.MonitoringService{},
		&services.SqliteService{},
		&services.RedisService{},
		&services.QueueService{},

		&services.RateLimitService{},
		&services.LockoutService{},
		&services.JWTService{},
		&services.AuthService{},
		&services.BatchService{},
		&services.SweepService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
