// Package otel wires OpenTelemetry metrics and traces for the launcher
// daemon. Both signals are off by default and opt in through the
// environment.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls exporter behaviour.
type Config struct {
	ServiceName   string
	EnableMetrics bool
	EnableTraces  bool
	Endpoint      string
}

// Provider owns the meter and tracer providers plus the daemon's derived
// command instruments.
type Provider struct {
	cfg            Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         trace.Tracer

	commandInstruments *CommandInstruments
	shutdownOnce       sync.Once
}

// Setup initialises exporters for metrics and traces following the provided
// config. With both signals disabled the returned provider is inert.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.EnableMetrics && !cfg.EnableTraces {
		return &Provider{cfg: cfg}, nil
	}

	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "clawdockd"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	p := &Provider{cfg: cfg}

	if cfg.EnableMetrics {
		mp, err := createMeterProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		p.meterProvider = mp
		otel.SetMeterProvider(mp)
		p.meter = mp.Meter("github.com/openclaw/clawdock/launcher")
	}

	if cfg.EnableTraces {
		tp, err := createTracerProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
		p.tracer = tp.Tracer("github.com/openclaw/clawdock/launcher")
	}

	p.commandInstruments = newCommandInstruments(p)
	return p, nil
}

func createMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	if strings.TrimSpace(cfg.Endpoint) != "" {
		log.Printf("CLAWDOCK_OTEL_ENDPOINT=%s ignored: remote OTLP metric export not implemented", cfg.Endpoint)
	}

	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

func createTracerProvider(cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if strings.TrimSpace(cfg.Endpoint) != "" {
		log.Printf("CLAWDOCK_OTEL_ENDPOINT=%s ignored: OTLP trace export unsupported; using stdout exporter", cfg.Endpoint)
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("init stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(64)),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// Shutdown flushes and stops the configured providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		var errs []error
		if p.meterProvider != nil {
			if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if p.tracerProvider != nil {
			if shutdownErr := p.tracerProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if len(errs) > 0 {
			err = errors.Join(errs...)
		}
	})
	return err
}

// Commands returns the daemon's command instruments.
func (p *Provider) Commands() *CommandInstruments {
	if p == nil {
		return nil
	}
	return p.commandInstruments
}

// EnvBool interprets CLAWDOCK_* env toggles.
func EnvBool(value string, defaultOn bool) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "":
		return defaultOn
	case "1", "true", "on", "enable", "enabled", "yes":
		return true
	case "0", "false", "off", "disable", "disabled", "no":
		return false
	default:
		return defaultOn
	}
}

// LoadConfigFromEnv reads telemetry config from the environment.
func LoadConfigFromEnv() Config {
	return Config{
		ServiceName:   "clawdockd",
		EnableMetrics: EnvBool(os.Getenv("CLAWDOCK_OTEL_METRICS"), false),
		EnableTraces:  EnvBool(os.Getenv("CLAWDOCK_OTEL_TRACES"), false),
		Endpoint:      strings.TrimSpace(os.Getenv("CLAWDOCK_OTEL_ENDPOINT")),
	}
}
