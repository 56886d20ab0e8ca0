package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/config"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/host"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/sirupsen/logrus"
)

type options struct {
	configPath string
	addr       string
	transport  string
	wait       time.Duration
	debug      bool
	dumpConfig bool
}

var log = logrus.New()

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (err error) {

	// Parse command line options
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	flag.StringVar(&opts.addr, "addr", "", "address of remote peripheral (MAC on Linux, UUID on OS X)")
	flag.StringVar(&opts.transport, "transport", "", "bluetooth stack to use (gatt, bluetooth, mock)")
	flag.DurationVar(&opts.wait, "wait", time.Minute, "maximum time to wait for a stable weight")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flag.BoolVar(&opts.dumpConfig, "dump-config", false, "print the default configuration and exit")
	flag.Parse()

	if opts.dumpConfig {
		data, err := config.Default().YAML()
		if err != nil {
			return fmt.Errorf("failed to render default configuration: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	m, err := host.NewManager(cfg, host.NewLogger(cfg.Log))
	if err != nil {
		return err
	}
	defer m.Teardown()

	dataChan := make(chan scale.DataPoint, 1)
	m.SetDataChannel(dataChan)

	ctx, cancel := context.WithTimeout(context.Background(), opts.wait)
	defer cancel()

	if err := m.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("failed to connect to scale `%s`: %w", cfg.Address, err)
	}
	log.Infof("Connected to %s, step on the scale", m.UniqueID())

	select {
	case data := <-dataChan:
		fmt.Printf("%.0f %s\n", data.Weight, data.Unit)
	case <-ctx.Done():
		return fmt.Errorf("no stable weight received within %v", opts.wait)
	}

	return nil
}

func loadConfig(opts options) (*config.Config, error) {
	overrides := make(map[string]interface{})
	if opts.addr != "" {
		overrides["address"] = opts.addr
	}
	if opts.transport != "" {
		overrides["transport"] = opts.transport
	}
	if opts.debug {
		overrides["log.debug"] = true
	}

	return config.Load(opts.configPath, overrides)
}
