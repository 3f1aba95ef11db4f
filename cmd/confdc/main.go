// confdc is the thin CLI front end for the confd backend daemon,
// grounded in the corpus's cobra-rootCmd-plus-subcommands layout
// (cuemby-warren's cmd/warren/main.go): every subcommand dials the
// daemon's socket, issues one RPC via client.Client, and reports the
// result.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/rpc"

	"github.com/opencfgd/confd/client"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "confdc",
	Short: "confdc talks to the confd configuration daemon",
}

func init() {
	rootCmd.PersistentFlags().String("socket", "/run/confd/main.sock", "Path to the confd daemon's Unix socket")

	rootCmd.AddCommand(getConfigCmd, editConfigCmd, validateCmd, commitCmd,
		discardChangesCmd, cancelCommitCmd, lockCmd, unlockCmd, setDebugCmd)
}

func dial(cmd *cobra.Command) (*client.Client, error) {
	sock, _ := cmd.Flags().GetString("socket")
	return client.Dial(sock)
}

var getConfigCmd = &cobra.Command{
	Use:   "get-config [source]",
	Short: "Retrieve configuration from a datastore (default: running)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := datastore.Running
		if len(args) == 1 {
			source = args[0]
		}
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.GetConfig(source, nil)
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

var editConfigCmd = &cobra.Command{
	Use:   "edit-config FILE",
	Short: "Merge the JSON-encoded config tree in FILE into a datastore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		opName, _ := cmd.Flags().GetString("default-operation")

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		node := new(datastore.Node)
		if err := json.Unmarshal(raw, node); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		op := datastore.ParseOp(opName)

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.EditConfig(target, op, node); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	editConfigCmd.Flags().String("target", datastore.Candidate, "Target datastore")
	editConfigCmd.Flags().String("default-operation", "merge", "merge|replace|create|delete|remove|none")
}

var validateCmd = &cobra.Command{
	Use:   "validate [source]",
	Short: "Validate a datastore's configuration without committing it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := datastore.Candidate
		if len(args) == 1 {
			source = args[0]
		}
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Call(&rpc.Request{Op: rpc.Validate, Source: source}); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the candidate datastore into running",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("confirmed")
		timeout, _ := cmd.Flags().GetUint32("confirm-timeout")
		persist, _ := cmd.Flags().GetString("persist")
		persistID, _ := cmd.Flags().GetString("persist-id")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Call(&rpc.Request{
			Op:                    rpc.Commit,
			Confirmed:             confirmed,
			ConfirmTimeoutSeconds: timeout,
			Persist:               persist,
			PersistID:             persistID,
		})
		if err != nil {
			return err
		}
		if reply.Data != nil {
			for _, child := range reply.Data.Children {
				if child.Name == "persist-id" {
					fmt.Printf("persist-id: %s\n", child.Value)
				}
			}
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	commitCmd.Flags().Bool("confirmed", false, "Require a confirming commit within the timeout")
	commitCmd.Flags().Uint32("confirm-timeout", 600, "Rollback timeout in seconds for a confirmed commit")
	commitCmd.Flags().String("persist", "", "Survive the session closing, identified by this string")
	commitCmd.Flags().String("persist-id", "", "Confirm a prior persistent confirmed-commit by its persist-id")
}

var discardChangesCmd = &cobra.Command{
	Use:   "discard-changes",
	Short: "Reset the candidate datastore back to running",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Call(&rpc.Request{Op: rpc.DiscardChanges}); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var cancelCommitCmd = &cobra.Command{
	Use:   "cancel-commit",
	Short: "Cancel an active confirmed-commit sequence and roll back",
	RunE: func(cmd *cobra.Command, args []string) error {
		persistID, _ := cmd.Flags().GetString("persist-id")
		force, _ := cmd.Flags().GetBool("force")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Call(&rpc.Request{Op: rpc.CancelCommit, PersistID: persistID, Force: force}); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	cancelCommitCmd.Flags().String("persist-id", "", "persist-id of the sequence to cancel, if persistent")
	cancelCommitCmd.Flags().Bool("force", false, "Cancel even if owned by another session")
}

var lockCmd = &cobra.Command{
	Use:   "lock DATASTORE",
	Short: "Take an exclusive lock on a datastore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Call(&rpc.Request{Op: rpc.Lock, Target: args[0]}); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock DATASTORE",
	Short: "Release a lock held on a datastore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Call(&rpc.Request{Op: rpc.Unlock, Target: args[0]}); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var setDebugCmd = &cobra.Command{
	Use:   "set-debug [TYPE LEVEL]",
	Short: "Change or report the debug-logging level (TYPE: commit|state, LEVEL: none|error|debug)",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var logName, level string
		if len(args) == 2 {
			logName, level = args[0], args[1]
		}
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Call(&rpc.Request{Op: rpc.SetDebug, LogName: logName, LogLevel: level})
		if err != nil {
			return err
		}
		if reply.Data != nil {
			if status := reply.Data.Child("status"); status != nil {
				fmt.Print(status.Value)
			}
		}
		return nil
	},
}

func printJSON(n *datastore.Node) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(n)
}
