package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Anthya1104/rain-striper/internal/cobra"
	"github.com/Anthya1104/rain-striper/internal/config"
	"github.com/Anthya1104/rain-striper/internal/logger"
)

func main() {
	if err := logger.InitLogger(config.LogLevelInfo); err != nil {
		logrus.Fatalf("Error initializing Logger: %v", err)
	}

	if err := cobra.ExecuteCmd(); err != nil {
		logrus.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
