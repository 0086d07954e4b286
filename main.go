//    Copyright 2017 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/environment"
	"github.com/binkynet/SpindleWorker/pkg/logging"
	"github.com/binkynet/SpindleWorker/pkg/machine"
	"github.com/binkynet/SpindleWorker/pkg/server"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
	"github.com/binkynet/SpindleWorker/pkg/service/worker"
	"github.com/binkynet/SpindleWorker/pkg/spindle"
)

const (
	projectName       = "BinkyNet Spindle Worker"
	defaultConfigPath = "spindles.yaml"
	defaultHTTPPort   = 7129
	defaultSSHPort    = 7122
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
	maskAny        = errors.WithStack
)

func main() {
	var levelFlag string
	var configPath string
	var serverHost string
	var httpPort int
	var sshPort int
	var bridgeType string
	var mqttBroker string
	var moduleID string

	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVarP(&configPath, "config", "c", defaultConfigPath, "Path of the configuration file")
	pflag.StringVarP(&bridgeType, "bridge", "b", "auto", "Type of bridge to use (rpi|virtual|auto)")
	pflag.StringVar(&serverHost, "host", "0.0.0.0", "Host address the servers will listen on")
	pflag.IntVar(&httpPort, "http-port", defaultHTTPPort, "Port the HTTP server will listen on")
	pflag.IntVar(&sshPort, "ssh-port", defaultSSHPort, "Port the SSH server will listen on")
	pflag.StringVar(&mqttBroker, "mqtt-broker", "", "Address (host:port) of the MQTT broker, empty disables MQTT")
	pflag.StringVar(&moduleID, "module-id", "", "Identifier of this worker, defaults to the hostname")
	pflag.Parse()

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logOutput := logging.NewMultiWriter(zerolog.ConsoleWriter{Out: os.Stderr})
	logger := zerolog.New(logOutput).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	}
	logger = logger.Level(level)

	if moduleID == "" {
		moduleID, err = os.Hostname()
		if err != nil {
			Exitf("Failed to get hostname: %v\n", err)
		}
	}

	config, err := model.Load(configPath)
	if err != nil {
		Exitf("Failed to load configuration: %v\n", err)
	}

	if mqttBroker != "" {
		if err := addMQTTLogOutput(ctx, logOutput, mqttBroker, moduleID); err != nil {
			logger.Warn().Err(err).Msg("MQTT log output not available")
		}
	}

	if bridgeType == "auto" {
		bridgeType = environment.AutoDetectBridgeType(logger)
	}
	var br bridge.API
	switch bridgeType {
	case environment.BridgeTypeRaspberryPi:
		br, err = bridge.NewRaspberryPiBridge()
		if err != nil {
			Exitf("Failed to initialize Raspberry Pi Bridge: %v\n", err)
		}
	case environment.BridgeTypeVirtual:
		br, err = bridge.NewVirtualBridge()
		if err != nil {
			Exitf("Failed to initialize Virtual Bridge: %v\n", err)
		}
	default:
		Exitf("Unknown bridge type '%s' (rpi|virtual|auto)\n", bridgeType)
	}
	defer br.Close()

	svc, err := worker.NewService(worker.Config{
		LocalConfiguration: config,
		ProgramVersion:     projectVersion,
		ModuleID:           moduleID,
		MQTTBrokerAddress:  mqttBroker,
	}, worker.Dependencies{
		Log:     logger,
		Bridge:  br,
		Machine: machine.New(),
	})
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	httpServer, err := server.New(server.Config{
		Host:     serverHost,
		HTTPPort: httpPort,
		SSHPort:  sshPort,
	}, logger, svc)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	logger.Info().
		Str("module-id", moduleID).
		Str("bridge", bridgeType).
		Strs("spindle-types", spindle.Types()).
		Int("spindles", len(config.Spindles)).
		Int("devices", len(config.Devices)).
		Msg("Starting")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		Exitf("Service run failed: %#v", err)
	}
}

// addMQTTLogOutput forwards log lines to '<moduleID>/log' on the given broker.
func addMQTTLogOutput(ctx context.Context, output logging.MultiWriter, broker, moduleID string) error {
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + broker).
		SetClientID(moduleID + "-log").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	client := mqttapi.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return maskAny(token.Error())
	}
	w := logging.NewMQTTWriter(ctx)
	w.SetDestination(moduleID+"/log", client)
	w.Enable(true)
	output.Add(w)
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
