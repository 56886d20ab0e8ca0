package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/api"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/config"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/host"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func main() {

	// Parse command line options
	var (
		configPath   string
		addr         string
		transport    string
		listen       string
		debug        bool
		pollInterval time.Duration
	)

	flag.StringVar(&configPath, "config", "", "path to YAML configuration file")
	flag.StringVar(&addr, "addr", "", "address of remote peripheral (MAC on Linux, UUID on OS X)")
	flag.StringVar(&transport, "transport", "", "bluetooth stack to use (gatt, bluetooth, mock)")
	flag.StringVar(&listen, "listen", "", "endpoint to serve the REST API on (e.g. :8080)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.DurationVar(&pollInterval, "poll", 30*time.Second, "interval in which the connection is re-established, if required")
	flag.Parse()

	cfg, err := loadConfig(configPath, addr, transport, listen, debug)
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}

	m, err := host.NewManager(cfg, host.NewLogger(cfg.Log))
	if err != nil {
		log.Fatalf("Failed to initialize Senssun scale: %s", err)
	}

	m.SetDataHandler(func(data scale.DataPoint) {
		log.Infof("Read DATA from Handler: %.0f%s, available: %v, connected for %v", data.Weight, data.Unit, m.IsAvailable(), m.ConnectedFor())
	})

	stateChan := make(chan scale.ConnectionStatus, 16)
	m.SetStateChangeChannel(stateChan)

	go func() {
		for st := range stateChan {
			if st.Error != nil {
				log.Warnf("State change: %v (%s)", st.State, st.Error)
				continue
			}
			log.Infof("State change: %v", st.State)
		}
	}()

	var restAPI *api.API
	if cfg.Listen != "" {
		restAPI = api.New(m)
		restAPI.Listen(cfg.Listen, log)
		log.Infof("Serving REST API on %s", cfg.Listen)
	}

	m.OnAdded()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Update()
		case <-sigChan:
			log.Infof("Got signal, terminating connection to device")
			if restAPI != nil {
				if err := restAPI.Shutdown(); err != nil {
					log.Warnf("Failed to shut down REST API: %s", err)
				}
			}
			m.OnRemoved()
			return
		}
	}
}

func loadConfig(path, addr, transport, listen string, debug bool) (*config.Config, error) {
	overrides := make(map[string]interface{})
	if addr != "" {
		overrides["address"] = addr
	}
	if transport != "" {
		overrides["transport"] = transport
	}
	if listen != "" {
		overrides["listen"] = listen
	}
	if debug {
		overrides["log.debug"] = true
	}

	return config.Load(path, overrides)
}
