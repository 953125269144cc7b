// Command jdbctl is a local CLI for operating a jdb data directory directly,
// without going through jdbd's HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsjohal14/jdb/internal/jdb"
)

var dataDir string

func main() {
	root := &cobra.Command{
		Use:   "jdbctl",
		Short: "Operate a jdb data directory",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "path to the jdb data directory")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), syncCmd(), gcCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*jdb.Coordinator, error) {
	return jdb.Open(dataDir, jdb.DefaultConfig())
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write a key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := openStore()
			if err != nil {
				return err
			}
			defer coord.Close()
			pos, err := coord.Put([]byte(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Println(pos.String())
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := openStore()
			if err != nil {
				return err
			}
			defer coord.Close()
			value, err := coord.ReadValue([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Tombstone a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := openStore()
			if err != nil {
				return err
			}
			defer coord.Close()
			_, err = coord.PutTombstone([]byte(args[0]))
			return err
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Force a durable checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := openStore()
			if err != nil {
				return err
			}
			defer coord.Close()
			return coord.Sync()
		},
	}
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run one garbage-collection step",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := openStore()
			if err != nil {
				return err
			}
			defer coord.Close()
			result, err := coord.GCStep()
			if err != nil {
				return err
			}
			fmt.Printf("wal_id=%d scanned=%d rewritten=%d dead=%d done=%t\n",
				result.WalID, result.Scanned, result.Rewritten, result.Dead, result.Done)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := openStore()
			if err != nil {
				return err
			}
			defer coord.Close()
			s := coord.Stats()
			fmt.Printf("wal_id=%d offset=%d live_keys=%d external_ids=%d\n",
				s.WalID, s.Offset, s.LiveKeys, s.ExternalIDs)
			return nil
		},
	}
}
