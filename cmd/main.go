package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"surgetrader/cmd/trader"
	"surgetrader/src/auth"
	"surgetrader/src/storage"
)

var Version string

func SetupLogger() {
	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()

	app := cli.NewApp()
	app.Name = "surgetrader"
	app.Usage = "Perpetual futures volume-surge trading engine"
	app.Version = Version

	app.Commands = []cli.Command{
		engineCMD,
		hashPasswordCMD,
		statusCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the trading engine and dashboard",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the scan / signal / position loop until SIGINT or SIGTERM`,
	}
	hashPasswordCMD = cli.Command{
		Name:        "hash-password",
		Usage:       "print the bcrypt hash for DASHBOARD_PASSWORD_HASH",
		Action:      hashPasswordAction,
		ArgsUsage:   "<password>",
		Description: `Hash a dashboard password`,
	}
	statusCMD = cli.Command{
		Name:        "status",
		Usage:       "print the persisted trading state",
		Action:      statusAction,
		ArgsUsage:   "",
		Description: `Print the persisted state document as JSON`,
	}
)

func engineAction(_ *cli.Context) error {
	logrus.WithField("cmd", "engine").Info("Starting engine CMD")

	runner := &trader.Runner{}
	if err := runner.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func hashPasswordAction(c *cli.Context) error {
	password := c.Args().First()
	if password == "" {
		return errors.New("usage: surgetrader hash-password <password>")
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hashed)
	return nil
}

func statusAction(_ *cli.Context) error {
	backend, err := storage.NewBackend(storage.GetConfig())
	if err != nil {
		return err
	}
	snap, err := storage.NewStateStore(backend).Load(context.Background())
	if snap == nil {
		return err
	}
	if err != nil {
		logrus.WithError(err).Warn("Persisted state is unreadable")
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
