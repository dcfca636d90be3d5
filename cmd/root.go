package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bucketdb/cmd/bucket"
	"bucketdb/cmd/serve"
)

const (
	Version = "1.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "bucketdb",
		Short: "embeddable JSON document store",
		Long: fmt.Sprintf(`bucketdb (v%s)

An embeddable JSON document store: named buckets of schema-less
records, queryable by field predicates, persisted to disk and
optionally mirrored to a secondary replica over HTTP.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of bucketdb",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bucketdb v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(bucket.BucketCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
