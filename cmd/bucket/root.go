// Package bucket implements the CLI client commands for talking to a
// running bucketdb server.
package bucket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"bucketdb/cmd/util"
	bstore "bucketdb/lib/bucket"
	"bucketdb/rpc/client"
)

var BucketCommands = &cobra.Command{
	Use:   "bucket",
	Short: "Interact with a bucketdb server",
}

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupClientFlags(BucketCommands)

	BucketCommands.AddCommand(createCmd)
	BucketCommands.AddCommand(listCmd)
	BucketCommands.AddCommand(deleteCmd)
	BucketCommands.AddCommand(flushCmd)
	BucketCommands.AddCommand(addCmd)
	BucketCommands.AddCommand(setCmd)
	BucketCommands.AddCommand(queryCmd)
	BucketCommands.AddCommand(deleteDataCmd)

	setCmd.Flags().String("key-field", "id", util.WrapString("Record field whose value decides update-vs-insert"))
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	return client.New(util.GetClientConfig()), nil
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.CreateBucket(args[0]); err != nil {
			return err
		}
		fmt.Printf("bucket %q created\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all buckets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		configs, err := c.ListBuckets()
		if err != nil {
			return err
		}
		for _, cfg := range configs {
			fmt.Printf("%-30s created %s\n", cfg.Name, cfg.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a bucket and all its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteBucket(args[0]); err != nil {
			return err
		}
		fmt.Printf("bucket %q deleted\n", args[0])
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush <name>",
	Short: "Remove all records of a bucket but keep the bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.FlushBucket(args[0]); err != nil {
			return err
		}
		fmt.Printf("bucket %q flushed\n", args[0])
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <name> <record-json>",
	Short: "Append a JSON record to a bucket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		rec, err := parseRecord(args[1])
		if err != nil {
			return err
		}
		return c.AddData(args[0], rec)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <name> <record-json>",
	Short: "Upsert a JSON record keyed by --key-field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		rec, err := parseRecord(args[1])
		if err != nil {
			return err
		}
		keyField, _ := cmd.Flags().GetString("key-field")
		return c.SetData(args[0], rec, keyField)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <name> [query-string]",
	Short: "Query a bucket, e.g. 'score[gte]=40&page=2&sortBy=name'",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		params := url.Values{}
		if len(args) == 2 {
			params, err = url.ParseQuery(args[1])
			if err != nil {
				return fmt.Errorf("invalid query string: %w", err)
			}
		}
		result, err := c.QueryData(args[0], params)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var deleteDataCmd = &cobra.Command{
	Use:   "delete-data <name> <query-string>",
	Short: "Delete all records matching a query",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		values, err := url.ParseQuery(args[1])
		if err != nil {
			return fmt.Errorf("invalid query string: %w", err)
		}
		params := make(map[string]string, len(values))
		for key := range values {
			params[key] = values.Get(key)
		}
		return c.DeleteData(args[0], params)
	},
}

func parseRecord(raw string) (bstore.Record, error) {
	var rec bstore.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("invalid record JSON: %w", err)
	}
	return rec, nil
}

func printResult(result bstore.Result) {
	fmt.Printf("page %d/%d, %d items total\n", result.Page, result.TotalPages, result.TotalItems)
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	for _, item := range result.Items {
		if err := encoder.Encode(item); err != nil {
			fmt.Fprintf(os.Stderr, "failed to print record: %v\n", err)
		}
	}
}
