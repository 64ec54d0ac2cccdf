package main

import (
	"context"
	"time"

	"springls/internal/server"
	"springls/internal/telemetry"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("springls")

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	if cfg.MetricsAddr != "" {
		tel, err := telemetry.Init(server.Name, Version)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				log.Warningf("telemetry shutdown: %v", err)
			}
		}()
		if _, err := tel.Serve(cfg.MetricsAddr); err != nil {
			return err
		}
	}

	log.Infof("starting springls %s", Version)
	return server.New(cfg, Version).RunStdio()
}
