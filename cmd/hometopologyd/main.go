// Command hometopologyd is a minimal demonstration host for the
// home-topology kernel: it wires the topology
// store, event bus, and occupancy module together, drives timer checks on
// a cron-ish cadence, watches a directory of per-location config files,
// and exposes Prometheus metrics. None of this lives in internal/ core —
// it is the one place in the module with an HTTP listener or a
// filesystem watch.
package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/mjcumming/home-topology/internal/eventbus"
	"github.com/mjcumming/home-topology/internal/htlog"
	"github.com/mjcumming/home-topology/internal/modules"
	"github.com/mjcumming/home-topology/internal/occupancy"
	"github.com/mjcumming/home-topology/internal/topology"
)

func main() {
	var (
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve /metrics on")
		configDir   = flag.String("config-dir", "", "directory of per-location occupancy config files to watch (optional)")
		tickSpec    = flag.String("tick-schedule", "@every 5s", "cron schedule driving occupancy.CheckTimeouts")
		logLevel    = flag.String("log-level", "info", "zerolog level")
	)
	flag.Parse()

	htlog.Configure(htlog.Config{Level: *logLevel, Output: os.Stderr, Module: "hometopologyd", Version: "dev"})
	log := htlog.Component("main")

	store := topology.NewStore()
	bus := eventbus.New()
	bus.SetLocationManager(store)

	occ := occupancy.New()
	registry := modules.NewRegistry(bus, store)
	registry.Register(occ)

	sched := cron.New()
	if _, err := sched.AddFunc(*tickSpec, func() {
		occ.CheckTimeouts(time.Now().UTC())
	}); err != nil {
		log.Fatal().Err(err).Msg("invalid tick schedule")
	}
	sched.Start()
	defer sched.Stop()

	if *configDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start config watcher")
		}
		defer watcher.Close()
		if err := watcher.Add(*configDir); err != nil {
			log.Fatal().Err(err).Str("dir", *configDir).Msg("failed to watch config directory")
		}
		go watchConfigDir(watcher, store, occ)
	}

	http.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", *metricsAddr).Msg("serving metrics")
	if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
		log.Fatal().Err(err).Msg("metrics server exited")
	}
}

// configFile is the on-disk shape of a per-location occupancy config
// override: <config-dir>/<location-id>.yaml.
type configFile struct {
	DefaultTimeoutSeconds     *int    `yaml:"default_timeout_seconds"`
	HoldReleaseTimeoutSeconds *int    `yaml:"hold_release_timeout_seconds"`
	OccupancyStrategy         *string `yaml:"occupancy_strategy"`
	ContributesToParent       *bool   `yaml:"contributes_to_parent"`
}

// watchConfigDir applies <config-dir>/<location-id>.yaml on every write
// event: it decodes the file, writes the resulting blob via
// store.SetModuleConfig, and notifies occ.OnLocationConfigChanged.
func watchConfigDir(watcher *fsnotify.Watcher, store *topology.Store, occ *occupancy.Module) {
	log := htlog.Component("config-watch")
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			locationID := locationIDFromPath(ev.Name)
			if locationID == "" {
				continue
			}
			blob, err := readConfigFile(ev.Name)
			if err != nil {
				log.Warn().Str(htlog.FieldLocationID, locationID).Msg("failed to read config file: " + err.Error())
				continue
			}
			if err := store.SetModuleConfig(locationID, occupancy.ModuleID, blob); err != nil {
				log.Warn().Str(htlog.FieldLocationID, locationID).Msg("rejected config update: " + err.Error())
				continue
			}
			occ.OnLocationConfigChanged(locationID, blob)
			log.Info().Str(htlog.FieldLocationID, locationID).Msg("applied occupancy config update")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Msg("watcher error: " + err.Error())
		}
	}
}

func locationIDFromPath(path string) string {
	base := path[strings.LastIndexByte(path, os.PathSeparator)+1:]
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".yml" {
		return ""
	}
	return strings.TrimSuffix(base, ext)
}

func readConfigFile(path string) (topology.ConfigBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	blob := topology.ConfigBlob{"version": occupancy.CurrentConfigVersion}
	if cf.DefaultTimeoutSeconds != nil {
		blob["default_timeout_seconds"] = *cf.DefaultTimeoutSeconds
	}
	if cf.HoldReleaseTimeoutSeconds != nil {
		blob["hold_release_timeout_seconds"] = *cf.HoldReleaseTimeoutSeconds
	}
	if cf.OccupancyStrategy != nil {
		blob["occupancy_strategy"] = *cf.OccupancyStrategy
	}
	if cf.ContributesToParent != nil {
		blob["contributes_to_parent"] = *cf.ContributesToParent
	}
	return blob, nil
}
