package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read and post to the group chat",
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent chat messages",
	RunE:  runChatList,
}

var chatPostCmd = &cobra.Command{
	Use:   "post [text...]",
	Short: "Post a chat message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChatPost,
}

var chatLimit int

func init() {
	chatCmd.AddCommand(chatListCmd, chatPostCmd)
	chatListCmd.Flags().IntVar(&chatLimit, "limit", 20, "Number of messages to show")
}

func runChatList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/coordinator/chat?limit=" + strconv.Itoa(chatLimit))
	if err != nil {
		return err
	}

	var msgs []map[string]interface{}
	if err := json.Unmarshal(resp, &msgs); err != nil {
		return err
	}

	if len(msgs) == 0 {
		fmt.Println("No messages")
		return nil
	}

	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m["timestamp"], m["author"], m["text"])
	}
	return nil
}

func runChatPost(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"author":      agentID,
		"author_type": "human",
		"text":        strings.Join(args, " "),
	}

	if _, err := apiPost("/api/coordinator/chat", body); err != nil {
		return err
	}
	fmt.Println("Posted")
	return nil
}
