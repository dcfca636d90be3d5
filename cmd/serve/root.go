package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bucketdb/cmd/util"
	"bucketdb/lib/bucket"
	"bucketdb/lib/logging"
	"bucketdb/lib/persistence"
	"bucketdb/lib/replication"
	"bucketdb/rpc/auth"
	"bucketdb/rpc/client"
	"bucketdb/rpc/common"
	"bucketdb/rpc/server"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the bucketdb server",
		Long:    `Start the bucketdb server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is BUCKETDB_<flag> (e.g. BUCKETDB_DATA_DIR=/var/lib/bucketdb)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", util.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", util.WrapString("Directory where bucket files and the configuration file are stored"))

	key = "api-keys-file"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Path to a JSON file with the list of valid API keys. Authentication is disabled if unset"))

	key = "api-keys-reload"
	ServeCmd.PersistentFlags().Int(key, 30, util.WrapString("How often to reload the API keys file (in seconds)"))

	key = "replication-secret"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Shared secret authenticating replication traffic between master and replica"))

	key = "master"
	ServeCmd.PersistentFlags().Bool(key, false, util.WrapString("Whether this node is the replication master. Masters forward every mutation to the replica endpoint"))

	key = "replica-endpoint"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Base URL of the secondary replica (e.g. http://replica:8080). Only used on the master"))

	key = "health-interval"
	ServeCmd.PersistentFlags().Int(key, 5, util.WrapString("How often to probe the replica's health endpoint (in seconds)"))

	key = "drain-interval"
	ServeCmd.PersistentFlags().Int(key, 10, util.WrapString("How often to replay buffered replication tasks (in seconds)"))

	key = "buffer-limit"
	ServeCmd.PersistentFlags().Int(key, 8192, util.WrapString("Maximum number of buffered replication tasks. The oldest task is dropped when the buffer is full"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.APIKeysFile = viper.GetString("api-keys-file")
	serveCmdConfig.APIKeysReloadSec = viper.GetInt("api-keys-reload")
	serveCmdConfig.ReplicationSecret = viper.GetString("replication-secret")
	serveCmdConfig.Master = viper.GetBool("master")
	serveCmdConfig.ReplicaEndpoint = viper.GetString("replica-endpoint")
	serveCmdConfig.HealthIntervalSec = viper.GetInt("health-interval")
	serveCmdConfig.DrainIntervalSec = viper.GetInt("drain-interval")
	serveCmdConfig.BufferLimit = viper.GetInt("buffer-limit")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// run starts the bucketdb server
func run(_ *cobra.Command, _ []string) error {
	logging.Init(serveCmdConfig.LogLevel)
	log := logging.GetLogger("serve")
	log.Info("starting bucketdb", "config", serveCmdConfig.String())

	// persistence layer
	persist, err := persistence.NewFS(serveCmdConfig.DataDir)
	if err != nil {
		return err
	}

	// replication manager; inert without a replica endpoint
	var target replication.Target
	if serveCmdConfig.HasReplica() {
		target = client.NewReplica(common.ClientConfig{
			Endpoint: serveCmdConfig.ReplicaEndpoint,
			APIKey:   serveCmdConfig.ReplicationSecret,
		})
	}
	manager := replication.NewManager(replication.Config{
		Master:         serveCmdConfig.Master,
		HealthInterval: time.Duration(serveCmdConfig.HealthIntervalSec) * time.Second,
		DrainInterval:  time.Duration(serveCmdConfig.DrainIntervalSec) * time.Second,
		BufferLimit:    serveCmdConfig.BufferLimit,
	}, target)
	metrics.GetOrCreateGauge("bucketdb_replication_buffer_length", func() float64 {
		return float64(manager.BufferLen())
	})

	// bucket store
	store, err := bucket.NewStore(persist, manager)
	if err != nil {
		return err
	}

	// api key validator
	validator, err := auth.NewValidator(
		serveCmdConfig.APIKeysFile,
		serveCmdConfig.ReplicationSecret,
		time.Duration(serveCmdConfig.APIKeysReloadSec)*time.Second,
	)
	if err != nil {
		return err
	}

	srv := server.NewServer(*serveCmdConfig, store, validator)

	manager.Start()
	validator.Start()
	defer func() {
		validator.Stop()
		manager.Stop()
	}()

	// shut down gracefully on SIGINT/SIGTERM
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		return err
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
