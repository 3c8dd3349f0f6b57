// Package main implements a daemon that serves a SPI NOR flash chip over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/BertoldVdb/go-misc/httplog"
	"github.com/BertoldVdb/spinor/flashserver"
	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/chipdb"
	"github.com/BertoldVdb/spinor/transport"
	"github.com/retroenv/retrogolib/buildinfo"
	"github.com/retroenv/retrogolib/log"
)

var (
	version = "0.1.0"
	commit  = ""
	date    = ""
)

type optionFlags struct {
	listen   string
	device   string
	chip     string
	apiKey   string
	announce string
	iface    string

	unprotect bool
	debug     bool
	quiet     bool
}

func main() {
	options := readArguments()
	logger := createLogger(options.debug, options.quiet)

	logger.Info("Starting spinord", log.String("version", buildinfo.Version(version, commit, date)))

	if err := run(options, logger); err != nil {
		logger.Fatal("Server failed", log.Err(err))
	}
}

func readArguments() optionFlags {
	options := optionFlags{}

	flag.StringVar(&options.listen, "listen", ":8067", "Address to listen on")
	flag.StringVar(&options.device, "device", "emulate:W25Q128FV", "Controller path: spidev:/dev/spidevX.Y[:khz[:wppin]], ftdi[:index[:khz]], usb[:serial[:i2caddr]], platform[:bus[:wppin[:i2caddr]]] or emulate:model[:image]")
	flag.StringVar(&options.chip, "chip", "", "Chip name, probed when empty")
	flag.StringVar(&options.apiKey, "apikey", "", "API key to use")
	flag.StringVar(&options.announce, "announce", "", "Announce the server with mDNS under this name")
	flag.StringVar(&options.iface, "iface", "", "Interface to announce on, all interfaces when empty")
	flag.BoolVar(&options.unprotect, "unprotect", false, "Clear block protection at startup, it is restored on exit")
	flag.BoolVar(&options.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&options.quiet, "quiet", false, "Only log errors")

	flag.Parse()
	return options
}

func createLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	if debug {
		cfg.Level = log.DebugLevel
	} else if quiet {
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}

func openChip(dev transport.Device, name string, logger *log.Logger) (*spinor.Chip, error) {
	progress := spinor.WithProgress(func(op string, done, total uint32) {
		logger.Debug("Progress", log.String("op", op), log.Int("done", int(done)), log.Int("total", int(total)))
	})

	if name == "" {
		return chipdb.Detect(dev, logger, progress)
	}
	return chipdb.Open(dev, name, spinor.WithLogger(logger), progress)
}

func run(options optionFlags, logger *log.Logger) error {
	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	dev, err := transport.Open(options.device, logger)
	if err != nil {
		return fmt.Errorf("opening device %q: %w", options.device, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Error("Closing device failed", log.Err(err))
		}
	}()

	chip, err := openChip(dev, options.chip, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := chip.Close(); err != nil {
			logger.Error("Restoring chip state failed", log.Err(err))
		}
	}()

	logger.Info("Chip ready", log.Stringer("chip", chip.Info()))

	if options.apiKey != "" {
		expiry := time.Now().AddDate(10, 0, 0)
		for _, access := range []flashserver.Access{flashserver.AccessRead, flashserver.AccessWrite} {
			user, pass := flashserver.AuthCalculate(options.apiKey, chip.Info().Name, access, expiry)
			logger.Info("Credentials", log.Stringer("access", access), log.String("user", user), log.String("password", pass))
		}
	}

	if options.unprotect {
		if err := chip.DisableProtection(); err != nil {
			return err
		}
	}

	api := flashserver.New(chip, logger)

	httpLog := httplog.HTTPLog{
		LogOut: func(format string, v ...interface{}) {
			logger.Info(fmt.Sprintf(format, v...))
		},
		ServerName: "spinord",
	}

	server := &http.Server{
		Addr:    options.listen,
		Handler: httpLog.GetHandler(flashserver.AuthHandler(api, options.apiKey, chip.Info().Name)),

		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if options.announce != "" {
		_, portStr, err := net.SplitHostPort(options.listen)
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return err
		}

		announcer := flashserver.NewAnnouncer(options.announce, port, chip.Info())
		if err := announcer.Start(options.iface, 30*time.Second); err != nil {
			return fmt.Errorf("starting mDNS announcement: %w", err)
		}
		defer announcer.Stop()

		logger.Info("Announcing", log.String("name", options.announce), log.String("addr", announcer.CurrentAddress()))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", log.String("addr", options.listen))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-closeChan:
		logger.Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		server.Shutdown(ctx)
		cancel()
	}

	return nil
}
