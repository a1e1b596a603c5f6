package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"tailscale.com/tsweb"

	"github.com/banshee-data/framelink/internal/bridge"
	"github.com/banshee-data/framelink/internal/capture"
	"github.com/banshee-data/framelink/internal/config"
	"github.com/banshee-data/framelink/internal/httputil"
	"github.com/banshee-data/framelink/internal/journal"
	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/serialmux"
	"github.com/banshee-data/framelink/internal/transport"
	"github.com/banshee-data/framelink/internal/udplink"
	"github.com/banshee-data/framelink/internal/version"
)

// devInterval is how often the simulated device emits its fixture.
var devInterval = time.Second

// serialPorts opens the UART when serial.enabled is set.
var serialPorts serialmux.SerialPortFactory = serialmux.NewRealSerialPortFactory()

// devFixture is the packet the simulated device repeats.
func devFixture() packet.Packet {
	p := packet.Packet{ID: 1}
	msg := []byte("framelink dev fixture")
	p.SetPayload(msg, len(msg))
	return p
}

type daemon struct {
	cfg *config.Config

	serial    serialmux.SerialMuxInterface
	serialEP  *transport.Endpoint
	endpoints []*transport.Endpoint

	journal *journal.Journal
	capture *capture.Writer
	redis   *redis.Client
	relay   *bridge.Relay

	mux *http.ServeMux
}

func newDaemon(ctx context.Context, cfg *config.Config, dev bool) (*daemon, error) {
	d := &daemon{cfg: cfg, mux: http.NewServeMux()}
	if err := d.open(ctx, dev); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) open(ctx context.Context, dev bool) (err error) {
	cfg := d.cfg
	var observers []transport.Observer
	if cfg.Journal.Enabled {
		if d.journal, err = journal.Open(cfg.Journal.Path); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		observers = append(observers, d.journal)
	}
	if cfg.Capture.Enabled {
		if d.capture, err = capture.Create(cfg.Capture.Path); err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		observers = append(observers, d.capture)
	}
	if cfg.Redis.Enabled {
		if d.redis, err = bridge.Connect(ctx, cfg.Redis); err != nil {
			return err
		}
		observers = append(observers, bridge.NewPublisher(d.redis, cfg.Redis.ChannelPrefix))
	}

	switch {
	case dev:
		d.serial = serialmux.NewMockSerialMux(devFixture(), devInterval)
	case cfg.Serial.Enabled:
		opts := serialmux.PortOptions{
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			StopBits: cfg.Serial.StopBits,
			Parity:   cfg.Serial.Parity,
		}
		var muxOpts []serialmux.Option
		if !cfg.Serial.PaceWrites {
			muxOpts = append(muxOpts, serialmux.WithPacing(0))
		}
		mux, err := serialmux.OpenSerialMux(serialPorts, cfg.Serial.Port, opts, muxOpts...)
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
		}
		d.serial = mux
	default:
		d.serial = serialmux.NewDisabledSerialMux()
	}
	if dev || cfg.Serial.Enabled {
		d.serialEP = transport.NewEndpoint(d.serial.Transport(), observers...)
		d.endpoints = append(d.endpoints, d.serialEP)
	}

	if cfg.UDP.Enabled {
		link, err := udplink.Listen(nil, cfg.UDP)
		if err != nil {
			return err
		}
		d.endpoints = append(d.endpoints, transport.NewEndpoint(link, observers...))
	}

	if d.redis != nil && len(d.endpoints) > 0 {
		// outbound traffic from other services goes to the first link
		d.relay = bridge.NewRelay(d.redis, cfg.Redis.ChannelPrefix, d.endpoints[0])
	}

	return d.attachRoutes()
}

func (d *daemon) attachRoutes() error {
	// packets from the debug page cross the endpoint so observers see them
	var send serialmux.SendFunc
	if d.serialEP != nil {
		send = d.serialEP.Send
	}
	d.serial.AttachAdminRoutes(d.mux, send)
	if d.journal != nil {
		if err := d.journal.AttachAdminRoutes(d.mux); err != nil {
			return err
		}
	}
	if d.cfg.Metrics.Enabled {
		d.mux.Handle(d.cfg.Metrics.Path, promhttp.Handler())
	}
	debug := tsweb.Debugger(d.mux)
	debug.Handle("version", "Build information", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, version.Get())
	}))
	return nil
}

// Run serves until ctx is done, then shuts everything down.
func (d *daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.HTTP.Listen, err)
	}
	return d.serve(ctx, ln)
}

func (d *daemon) serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	fail := func(err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			cancel(err)
		}
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("failed to monitor serial port: %v", err)
			fail(err)
		}
		monitoring.Logf("monitor routine terminated")
	}()

	for _, ep := range d.endpoints {
		wg.Add(1)
		go func(ep *transport.Endpoint) {
			defer wg.Done()
			name := ep.Transport().Name()
			err := ep.Run(ctx, func(p packet.Packet) {
				monitoring.Logf("%s: received %s", name, p.HeaderInfo())
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
				monitoring.Logf("%s: receive loop failed: %v", name, err)
				fail(err)
			}
		}(ep)
	}

	if d.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(d.relay.Run(ctx))
		}()
	}

	server := &http.Server{
		Handler:           d.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("HTTP server listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("HTTP server failed: %v", err)
			fail(err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), d.cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		server.Close()
	}
	// unblock receive loops parked on their transports
	for _, ep := range d.endpoints {
		ep.Close()
	}
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return ctx.Err()
}

// Close releases everything newDaemon opened. It is safe on a partially
// built daemon.
func (d *daemon) Close() error {
	var errs []error
	for _, ep := range d.endpoints {
		errs = append(errs, ep.Close())
	}
	if d.serial != nil {
		errs = append(errs, d.serial.Close())
	}
	if d.capture != nil {
		errs = append(errs, d.capture.Close())
	}
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	return errors.Join(errs...)
}
