// Command svckitd is a minimal demo daemon exercising svckit's scheduler,
// TCP service layer, and child-process monitor together: it runs a TCP echo
// listener and, optionally, monitors a spawned child process, both driven
// by one cooperative scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/malbeclabs/svckit/childmon"
	"github.com/malbeclabs/svckit/ioscheduler"
	"github.com/malbeclabs/svckit/logsvc"
	"github.com/malbeclabs/svckit/netsock"
	"github.com/malbeclabs/svckit/procutil"
	"github.com/malbeclabs/svckit/svcconfig"
	"github.com/malbeclabs/svckit/tcpsvc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

type options struct {
	ConfigFile   string
	ListenPort   int
	MetricsAddr  string
	MonitorChild string
	Verbose      bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	opts := parseFlags()

	cfg := svcconfig.Default()
	if opts.ConfigFile != "" {
		loaded, err := svcconfig.Load(opts.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if opts.Verbose {
		cfg.Verbose = true
	}

	log := logsvc.New("svckitd", slog.LevelInfo, cfg.Verbose)
	reg := prometheus.NewRegistry()

	sched, err := ioscheduler.New(cfg.SchedulerMaxTasks, cfg.SchedulerMaxTimers,
		ioscheduler.WithLogger(log.With("component", "scheduler")),
		ioscheduler.WithMetrics(ioscheduler.NewMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.StartThread(ctx)
	defer sched.Stop()

	sockReg := netsock.NewRegistry()
	defer sockReg.Shutdown()

	fd, err := sockReg.GetOrCreateTCP(uint16(opts.ListenPort))
	if err != nil {
		return fmt.Errorf("binding listener on port %d: %w", opts.ListenPort, err)
	}

	listener := tcpsvc.NewListener(sched, fd, uint16(opts.ListenPort),
		tcpsvc.WithLogger(log.With("component", "tcpsvc")),
		tcpsvc.WithMetrics(tcpsvc.NewMetrics(reg)),
		tcpsvc.WithRegistry(sockReg),
		tcpsvc.OnClientRequest(func(c *tcpsvc.RemoteClient, data []byte) bool {
			_, _ = c.Send(data)
			return false
		}),
		tcpsvc.OnListenerClosed(func() {
			log.Info("tcp echo listener socket closed", "port", opts.ListenPort)
		}),
	)
	if err := listener.Start(); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	defer listener.Destroy()
	log.Info("tcp echo listener started", "port", opts.ListenPort)

	monitor := childmon.New(sched,
		childmon.WithLogger(log.With("component", "childmon")),
		childmon.WithTick(cfg.ChildMonitorTick),
		childmon.WithMetrics(childmon.NewMetrics(reg)),
	)
	if opts.MonitorChild != "" {
		fields := strings.Fields(opts.MonitorChild)
		sp, err := procutil.Spawn(fields[0], fields[1:])
		if err != nil {
			return fmt.Errorf("spawning monitored child: %w", err)
		}
		err = monitor.MonitorChild(sp, nil, func(pid int, status unix.WaitStatus) {
			log.Info("monitored child exited", "pid", pid, "exit_status", status.ExitStatus())
		})
		if err != nil {
			return fmt.Errorf("registering monitored child: %w", err)
		}
	}
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("starting child monitor: %w", err)
	}
	defer monitor.Stop()

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			log.Info("metrics listening", "address", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
		defer srv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig)
	return nil
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.ConfigFile, "config", "", "path to JSON config file")
	flag.IntVar(&opts.ListenPort, "port", 7070, "TCP echo listener port")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flag.StringVar(&opts.MonitorChild, "monitor-child", "", "command line of a child process to spawn and monitor")
	flag.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose logging")
	flag.Parse()
	return opts
}
