// fightserver runs the authoritative two-player match server.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/bernardosdias/fightnet/protocol"
	"github.com/bernardosdias/fightnet/server"
)

func main() {
	var (
		host        string
		port        int
		metricsAddr string
		inboundRate float64
		verbose     bool
	)

	rootCmd := &cobra.Command{
		Use:   "fightserver",
		Short: "Authoritative match server for two-player fights",
		Long: `fightserver hosts one two-player match at a time. It assigns player
slots, mediates character and stage selection, relays fighter state between
the players, and owns every combat outcome: health, score, and round
transitions. Share the printed address with the other player.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}

			opts := server.Options{
				Host:        host,
				Port:        port,
				InboundRate: rate.Limit(inboundRate),
			}
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				opts.Registry = registry
				go serveMetrics(metricsAddr, registry)
			}

			srv := server.New(opts)
			if err := srv.Start(); err != nil {
				return err
			}

			fmt.Printf("Match server listening on %s\n", srv.Addr())
			fmt.Printf("LAN address: %s:%d\n", server.LocalIP(), port)
			fmt.Println("Share the address with the other player. Ctrl+C stops the server.")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			srv.Stop()
			return nil
		},
	}

	rootCmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to listen on")
	rootCmd.Flags().IntVar(&port, "port", protocol.DefaultPort, "TCP port to listen on")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9100)")
	rootCmd.Flags().Float64Var(&inboundRate, "inbound-rate", 0, "per-connection inbound messages per second, 0 disables")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("Server exited")
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Error("Metrics endpoint failed")
	}
}
