// Command qnetd is the arbiter server daemon: it accepts qdevice-net
// client connections and decides quorum votes on their behalf, per
// spec.md §1/§6.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luxfi/qnetd/config"
	"github.com/luxfi/qnetd/lockfile"
	qlog "github.com/luxfi/qnetd/log"
	"github.com/luxfi/qnetd/metrics"
	"github.com/luxfi/qnetd/nettls"
	"github.com/luxfi/qnetd/qnetd"
	"github.com/luxfi/qnetd/wire"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qnetd: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()
	var (
		ipv4, ipv6     bool
		debugCount     int
		foreground     bool
		showVersion    bool
		clientCertFlag string
		tlsFlag        string
		advancedFlag   string
		metricsListen  string
	)

	cmd := &cobra.Command{
		Use:   "qnetd",
		Short: "Quorum arbiter server (corosync qnetd rendition)",
		Long: `qnetd accepts connections from qdevice-net clients, tracks one cluster
registry per connected cluster name, and arbitrates quorum votes among a
cluster's members using a pluggable decision algorithm (ffsplit, 2nodelms,
lms, or the unsafe test algorithm).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}

			switch {
			case ipv4 && ipv6:
				return fmt.Errorf("qnetd: -4 and -6 are mutually exclusive")
			case ipv4:
				cfg.AddressFamily = config.AddressFamilyIPv4
			case ipv6:
				cfg.AddressFamily = config.AddressFamilyIPv6
			}
			cfg.DebugLevel = debugCount
			cfg.Foreground = foreground

			if clientCertFlag != "" {
				v, err := parseOnOff(clientCertFlag)
				if err != nil {
					return fmt.Errorf("qnetd: -c: %w", err)
				}
				cfg.ClientCertRequired = v
			}
			if tlsFlag != "" {
				mode, err := parseTLSMode(tlsFlag)
				if err != nil {
					return err
				}
				cfg.TLS = mode
			}
			for _, kv := range splitAdvanced(advancedFlag) {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("qnetd: -S: malformed setting %q, want key=value", kv)
				}
				if err := cfg.ApplyAdvancedSetting(k, v); err != nil {
					return err
				}
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cfg, metricsListen)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&ipv4, "ipv4", "4", false, "force IPv4")
	flags.BoolVarP(&ipv6, "ipv6", "6", false, "force IPv6")
	flags.CountVarP(&debugCount, "debug", "d", "increase debug verbosity (repeatable)")
	flags.BoolVarP(&foreground, "foreground", "f", false, "run in the foreground (qnetd does not daemonize; accepted for compatibility)")
	flags.BoolVarP(&showVersion, "version", "v", false, "print version, supported message types, and algorithms")
	flags.StringVarP(&clientCertFlag, "client-cert-required", "c", "", "require client certificates: on|off")
	flags.StringVarP(&cfg.ListenAddress, "listen", "l", cfg.ListenAddress, "listen address")
	flags.IntVarP(&cfg.MaxClients, "max-clients", "m", cfg.MaxClients, "maximum connected clients (0 = unlimited); validated, not enforced by the server")
	flags.Uint16VarP(&cfg.Port, "port", "p", cfg.Port, "listen port")
	flags.StringVarP(&tlsFlag, "tls", "s", "", "tls mode: on|off|req")
	flags.StringVarP(&advancedFlag, "advanced", "S", "", "advanced settings as key=value,key=value,...")
	flags.StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9929); empty disables")

	return cmd
}

func parseOnOff(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("must be on or off, got %q", v)
	}
}

func parseTLSMode(v string) (config.TLSMode, error) {
	switch v {
	case "on":
		return config.TLSModeOn, nil
	case "off":
		return config.TLSModeOff, nil
	case "req", "required":
		return config.TLSModeRequired, nil
	default:
		return 0, fmt.Errorf("qnetd: -s: must be on, off, or req, got %q", v)
	}
}

func splitAdvanced(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func printVersion() {
	fmt.Println("qnetd (quorum arbiter server)")
	fmt.Println("supported decision algorithms: ffsplit, 2nodelms, lms (test: disabled)")
	fmt.Println("supported message types:")
	for _, mt := range []wire.MsgType{
		wire.MsgPreinit, wire.MsgPreinitReply, wire.MsgStartTLS, wire.MsgInit,
		wire.MsgInitReply, wire.MsgServerError, wire.MsgSetOption, wire.MsgSetOptionReply,
		wire.MsgEchoRequest, wire.MsgEchoReply, wire.MsgNodeList, wire.MsgNodeListReply,
		wire.MsgAskForVote, wire.MsgAskForVoteReply, wire.MsgVoteInfo, wire.MsgVoteInfoReply,
		wire.MsgHeuristicsChange, wire.MsgHeuristicsChangeReply,
	} {
		fmt.Printf("  %s\n", mt)
	}
}

func run(cfg config.ServerConfig, metricsListen string) error {
	logger, err := qlog.NewLogger(cfg.DebugLevel > 0)
	if err != nil {
		return fmt.Errorf("qnetd: building logger: %w", err)
	}

	lock, err := lockfile.Acquire(cfg.LockFile)
	if err != nil {
		return fmt.Errorf("qnetd: %w", err)
	}
	defer lock.Release()

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port)
	ln, err := nettls.Listen(addr)
	if err != nil {
		return fmt.Errorf("qnetd: listening on %s: %w", addr, err)
	}

	inst := qnetd.NewInstance(logger, cfg.MaxClientReceiveSize, cfg.MaxClientSendSize)
	inst.Algorithms.TestEnabled = false

	if metricsListen != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.NewServerMetrics(reg)
		if err != nil {
			return fmt.Errorf("qnetd: building metrics: %w", err)
		}
		inst.SetMetrics(m)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsListen, mux); err != nil {
				logger.Warn("qnetd: metrics server stopped", "error", err)
			}
		}()
		logger.Info("qnetd: metrics listening", "addr", metricsListen)
	}

	srv := qnetd.NewServer(inst, ln, cfg.MaxClientSendBuffers, cfg.MaxClientReceiveSize)

	if cfg.TLS != config.TLSModeOff {
		tlsConfig, err := nettls.ServerTLSConfig(nettls.Config{
			DBDir:            cfg.NSSDBDir,
			CertNickname:     cfg.CertNickname,
			ClientCARequired: cfg.ClientCertRequired,
			CABundle:         filepath.Join(cfg.NSSDBDir, "ca.crt"),
		})
		if err != nil {
			return fmt.Errorf("qnetd: building tls config: %w", err)
		}
		srv.SetTLSPolicy(cfg.TLS.ToWire(), cfg.ClientCertRequired, tlsConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("qnetd: shutdown signal received")
		cancel()
	}()

	logger.Info("qnetd: listening", "addr", addr, "tls", cfg.TLS)
	return srv.Serve(ctx)
}
