package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/cmd/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.Parse()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	log := logrus.NewEntry(logger)

	dev, err := app.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build device")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithFields(logrus.Fields{
		"device_id": cfg.DeviceID,
		"sensor":    cfg.Sensor.Source,
		"actuator":  cfg.Actuator.Driver,
		"store":     cfg.Store.Backend,
	}).Info("thermopid starting")

	if err := dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("thermopid exited")
		os.Exit(1)
	}
	log.Info("thermopid stopped")
}
