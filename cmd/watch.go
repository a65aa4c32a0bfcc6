package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/client/supervisor"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/realtime"
	"github.com/kilianp07/routesync/infra/logger"
)

var watchRoute string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a route room and re-fetch its stops after every reconnect",
	Long: `watch keeps a supervised socket to the server, prints every event of the
route room as a JSON line and reloads the route's stops whenever the
connection comes back. SIGHUP triggers a liveness probe.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRoute, "route", "", "route id to follow")
	_ = watchCmd.MarkFlagRequired("route")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("watch")
	tokens := cfg.Client.TokenSource()
	out := json.NewEncoder(cmd.OutOrStdout())
	client := &http.Client{Timeout: 10 * time.Second}
	fetch := func() {
		stops, err := fetchStops(ctx, client, cfg.Client.ServerURL, watchRoute, tokens)
		if err != nil {
			log.Errorf("fetch stops of %s: %v", watchRoute, err)
			return
		}
		_ = out.Encode(map[string]any{"event": "route_snapshot", "routeId": watchRoute, "stops": stops})
	}

	terminal := make(chan supervisor.State, 1)
	sup, err := supervisor.New(cfg.Client.Supervisor(), tokens, log,
		supervisor.WithHTTPClient(client),
		supervisor.WithEventHandler(func(env realtime.Envelope) {
			_ = out.Encode(env)
		}),
		supervisor.WithOnReconnect(fetch),
		supervisor.WithStateHook(func(st supervisor.State) {
			log.Infof("connection %s", st)
			if st.Terminal() {
				select {
				case terminal <- st:
				default:
				}
			}
		}),
	)
	if err != nil {
		return err
	}
	if err := sup.JoinRoute(watchRoute); err != nil {
		return err
	}
	sup.Start(ctx)
	defer sup.Stop()
	fetch()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if !sup.Probe() {
				log.Warnf("probe failed, reconnecting")
			}
		case st := <-terminal:
			return fmt.Errorf("watch stopped in state %s: %w", st, sup.Err())
		}
	}
}

func fetchStops(ctx context.Context, client *http.Client, server, routeID string, tokens auth.TokenSource) ([]model.Stop, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/routes/"+routeID+"/stops", nil)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(req, tokens); err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.New(resp.Status + ": " + string(body))
	}
	var stops []model.Stop
	if err := json.NewDecoder(resp.Body).Decode(&stops); err != nil {
		return nil, err
	}
	return stops, nil
}
