package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Manage resource claims",
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active claims",
	RunE:  runClaimList,
}

var claimTakeCmd = &cobra.Command{
	Use:   "take [what]",
	Short: "Claim a logical resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimTake,
}

var claimReleaseCmd = &cobra.Command{
	Use:   "release [what]",
	Short: "Release a claim you hold",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimRelease,
}

var claimDesc string

func init() {
	claimCmd.AddCommand(claimListCmd, claimTakeCmd, claimReleaseCmd)
	claimTakeCmd.Flags().StringVar(&claimDesc, "desc", "", "What you plan to do with it")
}

func runClaimList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/coordinator/claims")
	if err != nil {
		return err
	}

	var claims []map[string]interface{}
	if err := json.Unmarshal(resp, &claims); err != nil {
		return err
	}

	if len(claims) == 0 {
		fmt.Println("No claims")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHAT\tBY\tSINCE\tSTALE")
	for _, c := range claims {
		stale := ""
		if s, ok := c["stale"].(bool); ok && s {
			stale = "stale"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c["what"], c["by"], c["since"], stale)
	}
	w.Flush()
	return nil
}

func runClaimTake(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"what":        args[0],
		"by":          agentID,
		"description": claimDesc,
	}

	if _, err := apiPost("/api/coordinator/claims", body); err != nil {
		return err
	}
	fmt.Printf("Claimed %s\n", args[0])
	return nil
}

func runClaimRelease(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"action": "release",
		"what":   args[0],
		"by":     agentID,
	}

	if _, err := apiPost("/api/coordinator/claims", body); err != nil {
		return err
	}
	fmt.Printf("Released %s\n", args[0])
	return nil
}
