package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage shared tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update [task-id]",
	Short: "Update a task's status or assignee",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskUpdate,
}

var (
	taskTitle    string
	taskDesc     string
	taskPriority string
	taskStatus   string
	taskAssignee string
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskUpdateCmd)

	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "", "Task priority")
	taskAddCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (todo, in-progress, blocked, done)")
	taskListCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Filter by assignee")

	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "New status")
	taskUpdateCmd.Flags().StringVar(&taskAssignee, "assignee", "", "New assignee")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"title":       taskTitle,
		"description": taskDesc,
		"priority":    taskPriority,
		"created_by":  agentID,
	}

	resp, err := apiPost("/api/coordinator/tasks", body)
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Created task: %s\n", result["id"])
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/api/coordinator/tasks?status=" + taskStatus + "&assignee=" + taskAssignee

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var tasks []map[string]interface{}
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tASSIGNEE")
	for _, t := range tasks {
		id := truncateID(t["id"].(string))
		title := truncate(t["title"].(string), 40)
		status := t["status"].(string)
		assignee := ""
		if a, ok := t["assignee"].(string); ok {
			assignee = a
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, title, status, assignee)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/coordinator/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task["id"])
	fmt.Printf("Title:       %s\n", task["title"])
	if d, ok := task["description"].(string); ok && d != "" {
		fmt.Printf("Description: %s\n", d)
	}
	fmt.Printf("Status:      %s\n", task["status"])
	if a, ok := task["assignee"].(string); ok && a != "" {
		fmt.Printf("Assignee:    %s\n", a)
	}
	fmt.Printf("Created:     %s\n", task["created_at"])
	fmt.Printf("Updated:     %s\n", task["updated_at"])
	return nil
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	if taskStatus == "" && taskAssignee == "" {
		return fmt.Errorf("nothing to update; pass --status or --assignee")
	}

	body := map[string]string{}
	if taskStatus != "" {
		body["status"] = taskStatus
	}
	if taskAssignee != "" {
		body["assignee"] = taskAssignee
	}

	resp, err := apiPatch("/api/coordinator/tasks/"+args[0], body)
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Updated task %s: %s\n", truncateID(args[0]), task["status"])
	return nil
}
