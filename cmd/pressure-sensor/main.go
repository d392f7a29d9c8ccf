// Command pressure-sensor samples a CS1237 nasal pressure transducer and
// streams filtered windows to JSON-RPC clients and, optionally, MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpsg/pressure-sensor/internal/api"
	"github.com/openpsg/pressure-sensor/internal/clock"
	"github.com/openpsg/pressure-sensor/internal/config"
	"github.com/openpsg/pressure-sensor/internal/control"
	"github.com/openpsg/pressure-sensor/internal/cs1237"
	"github.com/openpsg/pressure-sensor/internal/gpio"
	"github.com/openpsg/pressure-sensor/internal/mqtt"
	"github.com/openpsg/pressure-sensor/internal/sampler"
	"github.com/openpsg/pressure-sensor/internal/status"
	"github.com/openpsg/pressure-sensor/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "/etc/openpsg/pressure-sensor.yaml", "Path to the YAML configuration file")
	rpcAddr := flag.String("rpc", "", "JSON-RPC listen address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	broker := flag.String("broker", "", `MQTT broker address (overrides config, "off" disables)`)
	readOnce := flag.Bool("read-once", false, "Configure the ADC, print one conversion and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyOverrides(cfg, *rpcAddr, *httpAddr, *broker)

	if err := run(cfg, *readOnce); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverrides lets command line flags win over the configuration file.
func applyOverrides(cfg *config.Config, rpcAddr, httpAddr, broker string) {
	if rpcAddr != "" {
		cfg.RPC.Addr = rpcAddr
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
	switch broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = broker
	}
}

func run(cfg *config.Config, readOnce bool) error {
	adcCfg, err := cfg.ADC.CS1237()
	if err != nil {
		return err
	}
	policy, err := cfg.Sampler.Policy()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clockLine, dataLine, err := gpio.OpenReal(cfg.GPIO.Chip, cfg.GPIO.Clock, cfg.GPIO.Data)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	adc, err := cs1237.Configure(ctx, cs1237.Pins{Clock: clockLine, Data: dataLine}, adcCfg)
	if err != nil {
		clockLine.Close()
		dataLine.Close()
		return fmt.Errorf("configure adc: %w", err)
	}
	defer adc.Close()

	if readOnce {
		v, err := adc.Read(ctx)
		if err != nil {
			return fmt.Errorf("read adc: %w", err)
		}
		fmt.Printf("raw: %d, pressure: %.2f Pa, scaled: %d\n", v, sampler.Pressure(v), sampler.Scale(v))
		return nil
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		ADC:           adcCfg.String(),
		RPCAddr:       cfg.RPC.Addr,
		HTTPAddr:      cfg.HTTP.Addr,
		Broker:        cfg.MQTT.Broker,
		NotifyFailure: policy.String(),
	})

	mailbox := control.NewMailbox()
	rpc := api.NewServer(mailbox)
	sinks := sampler.Sinks{rpc}

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			BufferSize:         cfg.MQTT.BufferSize,
			Mailbox:            mailbox,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
		sinks = append(sinks, p)
	}

	smp, err := sampler.New(adc, mailbox, clock.NewSystem(), sinks,
		sampler.WithObserver(tracker),
		sampler.WithNotifyFailurePolicy(policy),
	)
	if err != nil {
		return err
	}

	rpcLn, err := net.Listen("tcp", cfg.RPC.Addr)
	if err != nil {
		return fmt.Errorf("listen rpc %s: %w", cfg.RPC.Addr, err)
	}
	log.Printf("json-rpc server listening on %s", rpcLn.Addr())

	d := daemon{
		sampler:   smp,
		rpc:       rpc,
		rpcLn:     rpcLn,
		tracker:   tracker,
		publisher: publisher,
		now:       time.Now,
	}
	if cfg.HTTP.Addr != "" {
		httpLn, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			rpcLn.Close()
			return fmt.Errorf("listen http %s: %w", cfg.HTTP.Addr, err)
		}
		d.web = web.New(cfg.HTTP.Addr, tracker)
		d.webLn = httpLn
		log.Printf("http status server listening on %s", httpLn.Addr())
	}

	log.Printf("started: adc=%s rpc=%s http=%s broker=%s notify-failure=%s",
		adcCfg, cfg.RPC.Addr, cfg.HTTP.Addr, cfg.MQTT.Broker, policy)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return d.run(ctx, sigCh)
}

// daemon is everything the main loop drives once the hardware is set up.
// publisher and web are optional.
type daemon struct {
	sampler   *sampler.Sampler
	rpc       *api.Server
	rpcLn     net.Listener
	web       *web.Server
	webLn     net.Listener
	tracker   *status.Tracker
	publisher mqtt.Publisher
	now       func() time.Time
}

// run publishes STARTUP, serves until a signal arrives or a component fails,
// then publishes SHUTDOWN.
func (d daemon) run(parent context.Context, sig <-chan os.Signal) error {
	d.publishLifecycle("STARTUP", "")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.sampler.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return d.rpc.Serve(ctx, d.rpcLn)
	})
	if d.web != nil {
		g.Go(func() error {
			if err := d.web.Serve(d.webLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return d.web.Shutdown(shutdownCtx)
		})
	}

	reason := ""
	g.Go(func() error {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason = signalName(s)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		log.Printf("stopped: %v", err)
		if reason == "" {
			reason = "ERROR"
		}
	}
	d.publishLifecycle("SHUTDOWN", reason)
	return err
}

// publishLifecycle sends a retained system event carrying a status snapshot.
func (d daemon) publishLifecycle(event, reason string) {
	if d.publisher == nil {
		return
	}
	if cs, ok := d.publisher.(mqtt.ConnectionStatus); ok {
		d.tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
	} else {
		log.Printf("published %s event", event)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
