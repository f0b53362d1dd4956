// Command scanner is the gate device agent.  It submits scans to the
// admission server and keeps them in a local queue while offline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iliyamo/event-admission/internal/config"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/offline"
)

// device bundles the opened queue and its collaborators.
type device struct {
	cfg    config.ScannerConfig
	queue  *offline.Queue
	client *offline.Client
	engine *offline.Engine
	agent  *offline.Agent
}

func (d *device) Close() error { return d.queue.Close() }

func main() {
	var flags struct {
		db, server, token, id, level string
	}
	root := &cobra.Command{
		Use:           "scanner",
		Short:         "Gate scanner agent with offline queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.db, "db", "", "queue database path (SCANNER_DB_PATH)")
	pf.StringVar(&flags.server, "server", "", "admission server url (SCANNER_SERVER_URL)")
	pf.StringVar(&flags.token, "token", "", "scanner access token (SCANNER_TOKEN)")
	pf.StringVar(&flags.id, "id", "", "scanner id (SCANNER_ID)")
	pf.StringVar(&flags.level, "log-level", "info", "log level")

	// open builds the device from env, .env and flags, flags winning.
	open := func(ctx context.Context) (*device, error) {
		config.SetupLogging("dev", flags.level)
		cfg := config.LoadScannerConfig(func(v *viper.Viper) {
			_ = v.BindPFlag("SCANNER_DB_PATH", pf.Lookup("db"))
			_ = v.BindPFlag("SCANNER_SERVER_URL", pf.Lookup("server"))
			_ = v.BindPFlag("SCANNER_TOKEN", pf.Lookup("token"))
			_ = v.BindPFlag("SCANNER_ID", pf.Lookup("id"))
		})
		if cfg.ScannerID == "" {
			return nil, fmt.Errorf("scanner id is required (--id or SCANNER_ID)")
		}
		q, err := offline.OpenQueue(ctx, cfg.DBPath, cfg.Capacity)
		if err != nil {
			return nil, err
		}
		client := offline.NewClient(cfg)
		return &device{
			cfg:    cfg,
			queue:  q,
			client: client,
			engine: offline.NewEngine(q, client, cfg),
			agent:  offline.NewAgent(client, q, cfg.ScannerID),
		}, nil
	}

	root.AddCommand(
		runCmd(open),
		scanCmd(open, false),
		scanCmd(open, true),
		syncCmd(open),
		retryCmd(open),
		queueCmd(open),
	)
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("scanner failed")
		os.Exit(1)
	}
}

type opener func(ctx context.Context) (*device, error)

// location builds the optional scan location from flags.
type location struct {
	lat, lon float64
	zone     string
}

func (l *location) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&l.lat, "lat", 0, "gate latitude")
	cmd.Flags().Float64Var(&l.lon, "lon", 0, "gate longitude")
	cmd.Flags().StringVar(&l.zone, "zone", "", "access zone id")
}

func (l *location) value(cmd *cobra.Command) *model.Location {
	if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") && l.zone == "" {
		return nil
	}
	return &model.Location{Latitude: l.lat, Longitude: l.lon, ZoneID: l.zone}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
