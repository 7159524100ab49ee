// Command qdevice-net is the per-node arbiter client daemon: it connects
// to a qnetd server, publishes local membership and heuristics state, and
// feeds the granted vote into the local cluster runtime, per spec.md
// §1/§6.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luxfi/qnetd/config"
	"github.com/luxfi/qnetd/heuristics"
	qlog "github.com/luxfi/qnetd/log"
	"github.com/luxfi/qnetd/metrics"
	"github.com/luxfi/qnetd/nettls"
	"github.com/luxfi/qnetd/qdevice"
	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/wire"
)

// exitError wraps an error with the process exit code spec.md §7's tier-3
// "process exits" path should surface, letting run()'s reconnect loop
// signal a fatal, do-not-reconnect condition up through a plain error
// return while main() still exits with the externally observable code.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := rootCmd().Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "qdevice-net: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}

func rootCmd() *cobra.Command {
	var configPath string
	var showVersion bool
	var metricsListen string

	cmd := &cobra.Command{
		Use:   "qdevice-net",
		Short: "Quorum arbiter client (corosync qdevice-net rendition)",
		Long: `qdevice-net connects to a qnetd server, reports this node's membership
and heuristics state, and casts the server's granted vote into the local
cluster runtime via a periodic cast-vote timer. It reconnects automatically
after a dropped connection, per spec.md §1's "clients reconnect to rebuild
it"; a small set of disconnect reasons are fatal and exit the process with
code 2 instead (spec.md §7 tier 3 / §9 "do not reconnect").`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			store, err := config.LoadFileStore(configPath)
			if err != nil {
				return err
			}
			cfg, err := config.LoadClientConfig(store)
			if err != nil {
				return fmt.Errorf("qdevice-net: %w", err)
			}
			return run(cfg, metricsListen)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/corosync/qdevice-net.conf", "path to the flat key-value configuration file")
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and supported message types")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9930); empty disables")
	return cmd
}

func run(cfg config.ClientConfig, metricsListen string) error {
	logger, err := qlog.NewLogger(false)
	if err != nil {
		return fmt.Errorf("qdevice-net: building logger: %w", err)
	}

	heartbeat := cfg.HeartbeatInterval(15*time.Second, 2*time.Minute+30*time.Second)

	params := qdevice.Params{
		NodeID:            cfg.NodeID,
		ClusterName:       cfg.ClusterName,
		HeartbeatInterval: uint32(heartbeat / time.Millisecond),
		TieBreaker:        cfg.TieBreaker,
		Algorithm:         cfg.Algorithm,
		MinSendSize:       1024,
		MaxReceiveSize:    32768,
		TLSMode:           cfg.TLS.ToWire(),
		WaitForAll:        cfg.WaitForAll,
	}

	dp := qdevice.DialParams{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		MaxSendBuffers: 32,
		MaxReceiveSize: 32768,
	}
	if cfg.TLS != config.TLSModeOff {
		if cfg.TLSCABundle == "" {
			return fmt.Errorf("qdevice-net: tls enabled but quorum.device.net.tls_ca_bundle is not set")
		}
		clientTLS, err := nettls.ClientTLSConfig(nettls.Config{
			CertNickname: cfg.TLSCertNickname,
			CABundle:     cfg.TLSCABundle,
		}, cfg.Host)
		if err != nil {
			return fmt.Errorf("qdevice-net: building tls config: %w", err)
		}
		dp.TLSConfig = clientTLS
	}

	rt := runtime.NewStandaloneRuntime(cfg.NodeID, 1, logger)
	heur := heuristics.NewNoopExecutor()

	var clientMetrics *metrics.ClientMetrics
	if metricsListen != "" {
		reg := prometheus.NewRegistry()
		clientMetrics, err = metrics.NewClientMetrics(reg)
		if err != nil {
			return fmt.Errorf("qdevice-net: building metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsListen, mux); err != nil {
				logger.Warn("qdevice-net: metrics server stopped", "error", err)
			}
		}()
		logger.Info("qdevice-net: metrics listening", "addr", metricsListen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("qdevice-net: shutdown signal received")
		cancel()
	}()

	// Reconnect loop: every connection attempt gets a fresh Connection/
	// Instance with seq counters reset, per spec.md §4 "Connection
	// (client-side)" lifecycle note. Most disconnect reasons imply
	// reconnect after a delay (spec.md line 168); ErrLocalRuntimeClosed is
	// the one named "do not reconnect" case this module's scope covers,
	// and exits with code 2 (spec.md §7 tier 3).
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		logger.Info("qdevice-net: connecting", "addr", dp.Addr, "cluster", cfg.ClusterName)
		sess, err := qdevice.Dial(connectCtx, dp, params, rt, heur, logger, heartbeat)
		connectCancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("qdevice-net: connect failed, retrying", "error", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = time.Second

		sess.SetMetrics(clientMetrics)
		clientMetrics.SetConnected(true)
		if !first {
			clientMetrics.Reconnected()
		}
		first = false

		err = sess.Run(ctx)
		clientMetrics.SetConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, qdevice.ErrLocalRuntimeClosed) {
			return &exitError{err: fmt.Errorf("qdevice-net: %w", err), code: 2}
		}

		logger.Warn("qdevice-net: disconnected, reconnecting", "error", err, "backoff", backoff)
		if !sleepOrDone(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// sleepOrDone waits for d or ctx cancellation, returning false if ctx was
// cancelled first (the caller should stop retrying in that case).
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

func printVersion() {
	fmt.Println("qdevice-net (quorum arbiter client)")
	fmt.Println("supported decision algorithms: test, ffsplit, 2nodelms, lms")
	for _, mt := range []wire.MsgType{
		wire.MsgPreinit, wire.MsgPreinitReply, wire.MsgStartTLS, wire.MsgInit,
		wire.MsgInitReply, wire.MsgServerError, wire.MsgSetOption, wire.MsgSetOptionReply,
	} {
		fmt.Printf("  %s\n", mt)
	}
}
