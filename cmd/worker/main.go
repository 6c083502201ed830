package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hanmadi-app/hanmadi_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.SqliteService{},
		&services.QueueService{},
		&services.ModelService{},
		&services.BatchService{},
		&services.WorkerService{},
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

	// The consumer pool runs in the background, hold the process open
	// until the OS asks it to stop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Worker shutting down")
}
