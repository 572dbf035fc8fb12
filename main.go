package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	natsnotifier "ocpp-gateway/notifier/nats"
	ocppserver "ocpp-gateway/ocpp"
	"ocpp-gateway/server/database"
	env "ocpp-gateway/utils"
)

func main() {
	env.Initialize()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(env.GetEnv("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(level)
	}

	dbConfig := database.NewConfig()
	log.Infof("using database type: %s", dbConfig.Type)

	dbService, err := database.NewService(dbConfig)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	log.Info("database connection established")

	config := ocppserver.NewConfig()
	centralSystem := ocppserver.NewCentralSystem(config, dbService, log)

	var notifier *natsnotifier.Notifier
	if config.NatsURL != "" {
		notifier = natsnotifier.New(config.NatsURL, log)
		notifier.SetChannel(centralSystem.NotificationChannel())
		if err := notifier.Start(); err != nil {
			log.Fatalf("failed to start NATS notifier: %v", err)
		}
	}

	server := ocppserver.NewOCPPServer(config, centralSystem, log)
	if err := server.Start(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	server.StartReservationExpirySweep(dbService, time.Minute)
	server.StartOfflineDetection(dbService, time.Minute)

	setupGracefulShutdown(server, notifier, log)

	server.RunForever()
}

// setupGracefulShutdown stops the server cleanly on SIGINT or SIGTERM.
func setupGracefulShutdown(server *ocppserver.OCPPServer, notifier *natsnotifier.Notifier, log *logrus.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
		if notifier != nil {
			notifier.Stop()
		}
		os.Exit(0)
	}()
}
