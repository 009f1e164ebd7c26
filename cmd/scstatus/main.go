// Command scstatus connects to a synthesis server, waits for it to answer
// its healthcheck and prints the server status.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/lcx/scosc/config"
	"github.com/lcx/scosc/log"
	"github.com/lcx/scosc/metrics"
	"github.com/lcx/scosc/net"
	"github.com/lcx/scosc/request"
)

type flags struct {
	host        string
	port        int
	configDir   string
	env         string
	logLevel    string
	timeout     time.Duration
	bootTimeout time.Duration
	watch       time.Duration
	metricsAddr string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("scstatus", pflag.ContinueOnError)
	fs.StringVarP(&f.host, "host", "H", "127.0.0.1", "server address")
	fs.IntVarP(&f.port, "port", "p", 57110, "server UDP port")
	fs.StringVar(&f.configDir, "config-dir", "./configs", "directory holding transport.yaml, logger.yaml and metrics.yaml")
	fs.StringVar(&f.env, "env", "development", "configuration environment subdirectory")
	fs.StringVar(&f.logLevel, "log-level", "", "override the configured log level")
	fs.DurationVar(&f.timeout, "timeout", time.Second, "status request timeout")
	fs.DurationVar(&f.bootTimeout, "boot-timeout", 30*time.Second, "how long to wait for the server to come online")
	fs.DurationVarP(&f.watch, "watch", "w", 0, "repeat the status query at this interval until interrupted")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.port <= 0 || f.port > 65535 {
		return nil, fmt.Errorf("invalid port %d", f.port)
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "scstatus: %v\n", err)
		os.Exit(2)
	}
	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "scstatus: %v\n", err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	cm := config.GetInstance()
	cm.SetBasePath(f.configDir)
	cm.SetEnvironment(f.env)
	defer cm.Close()

	if err := log.InitializeWithConfigManager(cm); err != nil && !config.IsConfigNotFound(err) {
		return fmt.Errorf("logger config: %w", err)
	}
	if f.logLevel != "" {
		if err := log.DefaultLogger().SetLevel(log.Level(f.logLevel)); err != nil {
			return err
		}
	}

	metricsCfg, err := loadOptional(cm, &metrics.MetricsCfg{ServiceName: "scstatus"})
	if err != nil {
		return err
	}
	if f.metricsAddr != "" {
		metricsCfg.Sink = metrics.SinkPrometheus
	}
	if _, err := metrics.Init(metricsCfg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if f.metricsAddr != "" {
		go serveMetrics(f.metricsAddr)
	}

	transportCfg, err := loadOptional(cm, &net.TransportCfg{Name: "scstatus"})
	if err != nil {
		return err
	}
	if transportCfg.HealthCheck == nil {
		transportCfg.HealthCheck = &net.HealthCheckCfg{
			RequestPattern:  []any{"/status"},
			ResponsePattern: []any{"/status.reply"},
		}
	}
	tr, err := net.NewThreadedTransportWithConfig(transportCfg)
	if err != nil {
		return err
	}
	cm.AddChangeListener(tr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := tr.Connect(f.host, f.port, net.WithOnPanic(func() {
		log.Error().Str("host", f.host).Int("port", f.port).Msg("server stopped answering healthchecks")
	})); err != nil {
		return err
	}
	defer func() {
		tr.Disconnect()
		tr.Wait()
	}()

	bootCtx, cancel := context.WithTimeout(ctx, f.bootTimeout)
	defer cancel()
	online, err := tr.BootFuture().Wait(bootCtx)
	if err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}
	if !online {
		return fmt.Errorf("server at %s:%d did not come online", f.host, f.port)
	}
	log.Info().Str("host", f.host).Int("port", f.port).Msg("server online")

	for {
		if err := printStatus(ctx, tr, f.timeout); err != nil {
			return err
		}
		if f.watch <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tr.ExitFuture().Done():
			return errors.New("connection lost")
		case <-time.After(f.watch):
		}
	}
}

// loadOptional loads cfg from the config manager, keeping its preset values
// when no file exists.
func loadOptional[T config.Config](cm config.ConfigManager, cfg T) (T, error) {
	if err := cm.LoadConfig(cfg.GetName(), cfg); err != nil && !config.IsConfigNotFound(err) {
		return cfg, fmt.Errorf("%s config: %w", cfg.GetName(), err)
	}
	return cfg, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

func printStatus(ctx context.Context, tr net.Transport, timeout time.Duration) error {
	resp, err := request.Communicate(ctx, tr, &request.QueryStatus{}, timeout)
	if err != nil {
		return err
	}
	st, ok := resp.(*request.StatusInfo)
	if !ok {
		return fmt.Errorf("unexpected response %s", resp.OSC())
	}
	fmt.Printf("ugens %d  synths %d  groups %d  synthdefs %d  cpu %.2f%% (peak %.2f%%)  sample rate %.1f (%.3f actual)\n",
		st.UGenCount, st.SynthCount, st.GroupCount, st.SynthDefCount,
		st.AverageCPU, st.PeakCPU, st.TargetSampleRate, st.ActualSampleRate)
	return nil
}
