// Package transport connects flash chips on real controllers to spinor.
// Controllers are selected with a colon separated device path, see Open.
package transport

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/BertoldVdb/spinor/spinor"
	"github.com/BertoldVdb/spinor/spinor/emulator"
	"github.com/retroenv/retrogolib/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Device is an opened controller with a flash chip behind it.
type Device interface {
	spinor.Transport
	io.Closer
}

// WriteProtectFunc drives the WP# line of the flash chip. protect true pulls
// it low.
type WriteProtectFunc func(protect bool) error

var ErrUnknownDevice = errors.New("device type not supported, use 'spidev', 'ftdi', 'usb', 'platform' or 'emulate'")

var hostInitialized atomic.Bool

func initHost() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			hostInitialized.Store(false)
			return fmt.Errorf("could not init host: %w", err)
		}
	}
	return nil
}

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) || parts[index] == "" {
		return def
	}
	return parts[index]
}

func parseKHz(s string) (int64, error) {
	khz, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if khz == 0 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return int64(khz), nil
}

// gpioWriteProtect returns a WriteProtectFunc for a host GPIO. An empty name
// means WP# is not connected.
func gpioWriteProtect(name string) (WriteProtectFunc, error) {
	if name == "" {
		return nil, nil
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("write protect gpio %q not found", name)
	}

	return func(protect bool) error {
		level := gpio.High
		if protect {
			level = gpio.Low
		}
		return pin.Out(level)
	}, nil
}

// Open parses a device path and opens the controller it names:
//
//	spidev:/dev/spidev0.0[:khz[:wppin]]
//	ftdi[:index[:khz]]
//	usb[:serial[:i2caddr]]
//	platform[:i2cbus[:wppin[:i2caddr]]]
//	emulate:model[:image]
//
// The write protect line, if any, is released before Open returns.
func Open(path string, logger *log.Logger) (Device, error) {
	if logger == nil {
		cfg := log.DefaultConfig()
		cfg.Level = log.ErrorLevel
		logger = log.NewWithConfig(cfg)
	}

	parts := strings.Split(path, ":")

	switch parts[0] {
	case "spidev":
		khz, err := parseKHz(getPart(parts, 2, "1000"))
		if err != nil {
			return nil, err
		}
		return OpenSPIDev(getPart(parts, 1, "/dev/spidev0.0"), khz, getPart(parts, 3, ""), logger)

	case "ftdi":
		index, err := strconv.Atoi(getPart(parts, 1, "0"))
		if err != nil {
			return nil, fmt.Errorf("invalid ftdi index: %w", err)
		}
		khz, err := parseKHz(getPart(parts, 2, "6000"))
		if err != nil {
			return nil, err
		}
		return OpenFTDI(index, khz, logger)

	case "usb":
		i2cAddr, err := strconv.ParseUint(getPart(parts, 2, "0x28"), 0, 7)
		if err != nil {
			return nil, err
		}
		return OpenUSB(getPart(parts, 1, ""), uint8(i2cAddr), logger)

	case "platform":
		i2cAddr, err := strconv.ParseUint(getPart(parts, 3, "0x28"), 0, 7)
		if err != nil {
			return nil, err
		}
		return OpenPlatform(getPart(parts, 1, "/dev/i2c-1"), getPart(parts, 2, ""), uint8(i2cAddr), logger)

	case "emulate":
		return OpenEmulator(getPart(parts, 1, "W25Q128FV"), getPart(parts, 2, ""), logger)
	}

	return nil, ErrUnknownDevice
}

// OpenEmulator creates an in-memory chip. When image is set the memory is
// loaded from and saved to that file.
func OpenEmulator(model string, image string, logger *log.Logger) (Device, error) {
	m, ok := emulator.ModelByName(model)
	if !ok {
		return nil, fmt.Errorf("unknown emulator model %q", model)
	}

	opts := []emulator.Option{emulator.WithLogger(logger)}
	if image != "" {
		opts = append(opts, emulator.WithImage(image))
	}
	return emulator.New(m, opts...)
}
