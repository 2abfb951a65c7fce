package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wapilot/wapilot/core/config"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the WhatsApp webhook API and run the background scheduler",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	app := fiber.New(fiber.Config{
		AppName:               "WaPilot " + config.Global.App.Version,
		Network:               "tcp",
		DisableStartupMessage: false,
		ServerHeader:          "Hidden",
	})

	app.Use(requestid.New())
	app.Use(recover.New())
	if config.Global.App.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "version": config.Global.App.Version})
	})

	webhookHandlers.Register(app)

	// Scheduler runs in-process; the Valkey lease keeps extra replicas idle.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	go schedulerSvc.Run(schedulerCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Termination signal received, shutting down gracefully...")
		cancelScheduler()
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during shutdown: %v", err)
		}
		StopApp()
	}()

	if err := app.Listen(":" + config.Global.App.Port); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
}
