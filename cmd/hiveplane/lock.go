package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage resource locks",
}

var lockTakeCmd = &cobra.Command{
	Use:   "take [resource-path]",
	Short: "Lock a resource path",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockTake,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release [resource-path]",
	Short: "Unlock a resource path",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockRelease,
}

var lockCheckCmd = &cobra.Command{
	Use:   "check [resource-path]",
	Short: "Check whether a resource path is locked",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockCheck,
}

var lockHistoryCmd = &cobra.Command{
	Use:   "history [resource-path]",
	Short: "Show release history for a resource path",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockHistory,
}

var (
	lockReason string
	lockTTLSec int
	lockForce  bool
)

func init() {
	lockCmd.AddCommand(lockTakeCmd, lockReleaseCmd, lockCheckCmd, lockHistoryCmd)

	lockTakeCmd.Flags().StringVar(&lockReason, "reason", "", "Why the lock is needed")
	lockTakeCmd.Flags().IntVar(&lockTTLSec, "ttl", 300, "Lock TTL in seconds")
	lockReleaseCmd.Flags().BoolVar(&lockForce, "force", false, "Steal the lock even if held by someone else")
}

func lockPath(resource, verb string) string {
	return "/api/lock/" + url.PathEscape(resource) + "/" + verb
}

func runLockTake(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id": agentID,
		"reason":   lockReason,
		"ttl_ms":   lockTTLSec * 1000,
	}

	resp, err := apiPost(lockPath(args[0], "lock"), body)
	if err != nil {
		return err
	}

	var lock map[string]interface{}
	if err := json.Unmarshal(resp, &lock); err != nil {
		return err
	}

	fmt.Printf("Locked %s until %s\n", args[0], lock["expires_at"])
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id": agentID,
		"force":    lockForce,
	}

	if _, err := apiPost(lockPath(args[0], "unlock"), body); err != nil {
		return err
	}
	fmt.Printf("Unlocked %s\n", args[0])
	return nil
}

func runLockCheck(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(lockPath(args[0], "check"))
	if err != nil {
		return err
	}

	var check struct {
		Locked bool                   `json:"locked"`
		Lock   map[string]interface{} `json:"lock"`
	}
	if err := json.Unmarshal(resp, &check); err != nil {
		return err
	}

	if !check.Locked {
		fmt.Printf("%s is unlocked\n", args[0])
		return nil
	}
	fmt.Printf("%s locked by %s until %s\n", args[0], check.Lock["locked_by"], check.Lock["expires_at"])
	return nil
}

func runLockHistory(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(lockPath(args[0], "history"))
	if err != nil {
		return err
	}

	var events []map[string]interface{}
	if err := json.Unmarshal(resp, &events); err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No history")
		return nil
	}

	for _, e := range events {
		fmt.Printf("[%s] %s released (%s)\n", e["released_at"], e["owner"], e["reason"])
	}
	return nil
}
