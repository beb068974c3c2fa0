package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/levalup/quickdist/pkg/config"
	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/metrics"
	"github.com/levalup/quickdist/pkg/node"
	"github.com/levalup/quickdist/pkg/pool"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Re-exec'd pool workers bypass the CLI entirely: they speak the
	// frame protocol on stdin/stdout and must not touch flags or ports.
	if pool.IsWorkerProcess() {
		if err := pool.RunWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quickdist",
	Short: "quickdist - lightweight distributed job-execution fabric",
	Long: `quickdist distributes a job script to a set of worker nodes and fans
calls out across a process pool spread over them, staging input and output
files between the origin, local-cache and staging tiers around every call.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"quickdist version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the node service",
	Long: `Start a worker node. The node answers PING/INFO/SETUP/MOUNT/CALL on its
serving port and runs one worker process per configured slot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		processes, _ := cmd.Flags().GetInt("processes")
		metricsPort, _ := cmd.Flags().GetInt("metrics-port")

		server := node.NewServer(port, processes)
		if err := server.Listen(); err != nil {
			return err
		}
		if metricsPort > 0 {
			metrics.StartServer(metricsPort)
		}
		server.Run()
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config <key> <value>",
	Short: "Config mount point",
	Long: `Update the persistent tier-root configuration. The key is one of
origin|local|temp|origin.<tag>; the value is a path that must exist.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(args[0], args[1])
	},
}

func init() {
	serveCmd.Flags().Int("port", node.DefaultPort, "serve port")
	serveCmd.Flags().IntP("processes", "n", 0, "worker processes (default: logical CPUs)")
	serveCmd.Flags().Int("metrics-port", 0, "expose Prometheus metrics on this port (0 = off)")
}

func updateConfig(key, value string) error {
	if value == "" {
		return nil
	}
	if _, err := os.Stat(value); err != nil {
		return fmt.Errorf("%s not exists", value)
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return err
	}

	cfg := config.Load()

	switch {
	case strings.EqualFold(key, "temp"):
		cfg.Tempdir = abs
	case strings.EqualFold(key, "local"):
		cfg.Localdir = abs
	case strings.EqualFold(key, "origin"):
		cfg.Workdir = abs
	case len(key) > len("origin.") && strings.EqualFold(key[:len("origin.")], "origin."):
		tag := strings.ToLower(key[len("origin."):])
		if cfg.Workdirs == nil {
			cfg.Workdirs = map[string]string{}
		}
		cfg.Workdirs[tag] = abs
	default:
		return fmt.Errorf("the config key should be origin|local|temp|origin.*")
	}

	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("updated %s\n", config.Path())
	return nil
}
