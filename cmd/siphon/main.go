// Package main is the siphon node daemon: it loads a node's configuration,
// connects to the controller, and runs until killed.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"

	"github.com/iqua-toronto/siphon/cmn/cos"
	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/config"
	"github.com/iqua-toronto/siphon/hk"
	"github.com/iqua-toronto/siphon/node"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	configPath     string
	controllerAddr string
	selfAddr       string
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to a JSON node configuration file")
	flag.StringVar(&controllerAddr, "controller", "", "controller host:port (overrides the config file)")
	flag.StringVar(&selfAddr, "self", "", "this node's own host:port, as reported to the controller (overrides the config file)")
}

func main() {
	flag.Parse()
	if configPath == "" {
		cos.Exitf("siphon: missing -config")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		cos.Exitf("siphon: failed to load configuration from %q: %v", configPath, err)
	}
	if controllerAddr == "" {
		controllerAddr = cfg.ControllerURL
	}
	if controllerAddr == "" {
		cos.Exitf("siphon: missing controller address (set -controller or ControllerURL in %q)", configPath)
	}
	if selfAddr == "" {
		cos.Exitf("siphon: missing -self")
	}

	runID := cos.GenUUID()
	nlog.Infof("siphon: starting, run=%s", runID)

	go hk.DefaultHK.Run()

	agg := node.New(cfg)
	installSignalHandler(agg)
	agg.Start(controllerAddr, selfAddr)

	if err := agg.Wait(); err != nil {
		cos.Exitf("siphon: %v", err)
	}
}

// fileConfig mirrors config.Config's exported fields for JSON decoding; a
// separate type keeps config.Config free of struct tags it has no other
// use for.
type fileConfig struct {
	MaxMessageSize uint64

	Transport string // "tcp" or "udp"
	UDP       config.UDPCoder

	ControllerURL  string
	ControllerPort uint16

	TCPListeningPort uint16
	UDPListeningPort uint16

	LocalDebugNoReceivingSocket bool

	PseudoSessions []config.PseudoSession

	MinionPoolSize int
	WorkerCount    int
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	cfg := &config.Config{
		MaxMessageSize:              fc.MaxMessageSize,
		UDP:                         fc.UDP,
		ControllerURL:               fc.ControllerURL,
		ControllerPort:              fc.ControllerPort,
		TCPListeningPort:            fc.TCPListeningPort,
		UDPListeningPort:            fc.UDPListeningPort,
		LocalDebugNoReceivingSocket: fc.LocalDebugNoReceivingSocket,
		PseudoSessions:              fc.PseudoSessions,
		MinionPoolSize:              fc.MinionPoolSize,
		WorkerCount:                 fc.WorkerCount,
	}
	if fc.Transport == "udp" {
		cfg.Transport = config.TransportUDP
	}
	return cfg, nil
}

func installSignalHandler(agg *node.Aggregator) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		nlog.Infof("siphon: received signal %v, shutting down", sig)
		agg.Stop()
		os.Exit(0)
	}()
}
