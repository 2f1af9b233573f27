package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var soulCmd = &cobra.Command{
	Use:   "soul",
	Short: "Manage agent souls and transfers",
}

var soulListCmd = &cobra.Command{
	Use:   "list",
	Short: "List souls and their bodies",
	RunE:  runSoulList,
}

var soulShowCmd = &cobra.Command{
	Use:   "show [soul-id]",
	Short: "Show a soul's state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSoulShow,
}

var soulCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new soul",
	Args:  cobra.ExactArgs(1),
	RunE:  runSoulCreate,
}

var soulTransferCmd = &cobra.Command{
	Use:   "transfer [soul-id]",
	Short: "Migrate a soul to a fresh body",
	Args:  cobra.ExactArgs(1),
	RunE:  runSoulTransfer,
}

var (
	soulIdentity   string
	transferReason string
)

func init() {
	soulCmd.AddCommand(soulListCmd, soulShowCmd, soulCreateCmd, soulTransferCmd)

	soulCreateCmd.Flags().StringVar(&soulIdentity, "identity", "", "Identity description")
	soulTransferCmd.Flags().StringVar(&transferReason, "reason", "manual", "Transfer reason")
}

func runSoulList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/dashboard")
	if err != nil {
		return err
	}

	var dash struct {
		Souls []struct {
			Soul map[string]interface{} `json:"soul"`
			Body map[string]interface{} `json:"body"`
		} `json:"souls"`
	}
	if err := json.Unmarshal(resp, &dash); err != nil {
		return err
	}

	if len(dash.Souls) == 0 {
		fmt.Println("No souls")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBODY\tTOKENS\tSTATUS")
	for _, s := range dash.Souls {
		id := truncateID(s.Soul["soul_id"].(string))
		name := s.Soul["name"].(string)
		body, tokens, status := "-", "-", "-"
		if s.Body != nil {
			body = truncateID(s.Body["body_id"].(string))
			tokens = fmt.Sprintf("%.0f", s.Body["current_tokens"].(float64))
			status = s.Body["token_status"].(string)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, name, body, tokens, status)
	}
	w.Flush()
	return nil
}

func runSoulShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/souls/" + args[0])
	if err != nil {
		return err
	}

	var soul map[string]interface{}
	if err := json.Unmarshal(resp, &soul); err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", soul["soul_id"])
	fmt.Printf("Name:     %s\n", soul["name"])
	if id, ok := soul["identity"].(string); ok && id != "" {
		fmt.Printf("Identity: %s\n", id)
	}
	if task, ok := soul["current_task"].(string); ok && task != "" {
		fmt.Printf("Task:     %s\n", task)
	}
	if body, ok := soul["current_body_id"].(string); ok && body != "" {
		fmt.Printf("Body:     %s\n", body)
	}
	if metrics, ok := soul["metrics"].(map[string]interface{}); ok {
		fmt.Printf("Tokens:   %.0f processed over %.0f transfers\n",
			metrics["total_tokens_processed"].(float64), metrics["transfer_count"].(float64))
	}
	return nil
}

func runSoulCreate(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"name":     args[0],
		"identity": soulIdentity,
	}

	resp, err := apiPost("/api/souls", body)
	if err != nil {
		return err
	}

	var soul map[string]interface{}
	if err := json.Unmarshal(resp, &soul); err != nil {
		return err
	}

	fmt.Printf("Created soul: %s\n", soul["soul_id"])
	return nil
}

func runSoulTransfer(cmd *cobra.Command, args []string) error {
	body := map[string]string{"reason": transferReason}

	resp, err := apiPost("/api/souls/"+args[0]+"/transfer", body)
	if err != nil {
		return err
	}

	var transfer map[string]interface{}
	if err := json.Unmarshal(resp, &transfer); err != nil {
		return err
	}

	fmt.Printf("Transfer %s: %s -> %s\n",
		truncateID(transfer["transfer_id"].(string)),
		truncateID(transfer["from_body_id"].(string)),
		truncateID(transfer["to_body_id"].(string)))
	return nil
}
