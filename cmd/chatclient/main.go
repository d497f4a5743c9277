// chatclient is the interactive terminal client. It talks to the cluster
// through the retrying runtime, so a leader failover mid-session shows up as
// nothing worse than a short delay.
package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vzdtic/replicated-chat/pkg/client"
	"github.com/vzdtic/replicated-chat/pkg/config"
)

var flagConfig string

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatclient",
		Short:         "Interactive chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "client TOML config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := &config.Client{}
	if flagConfig != "" {
		loaded, err := config.LoadClient(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	rt := client.New(cfg, logger)
	rt.Start()
	defer rt.Stop()

	session := &session{rt: rt, in: bufio.NewScanner(os.Stdin)}
	return session.loop()
}

// hashPassword digests the password before it leaves the process; the server
// only ever sees and stores the hex digest.
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

type session struct {
	rt       *client.Runtime
	in       *bufio.Scanner
	username string
}

const menu = `
1. Create account
2. Login
3. List accounts
4. Send message
5. Read new messages
6. List read messages
7. Delete messages
8. Delete account
9. Exit
`

func (s *session) loop() error {
	ctx := context.Background()
	for {
		fmt.Print(menu, "> ")
		choice, ok := s.readLine()
		if !ok {
			return nil
		}
		switch choice {
		case "1":
			s.createAccount(ctx)
		case "2":
			s.login(ctx)
		case "3":
			s.listAccounts(ctx)
		case "4":
			s.sendMessage(ctx)
		case "5":
			s.readNewMessages(ctx)
		case "6":
			s.listMessages(ctx)
		case "7":
			s.deleteMessages(ctx)
		case "8":
			s.deleteAccount(ctx)
		case "9", "exit", "quit":
			return nil
		default:
			fmt.Println("Unknown option")
		}
	}
}

func (s *session) readLine() (string, bool) {
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func (s *session) prompt(label string) (string, bool) {
	fmt.Print(label)
	return s.readLine()
}

func (s *session) requireLogin() bool {
	if s.username == "" {
		fmt.Println("Please log in first")
		return false
	}
	return true
}

func (s *session) createAccount(ctx context.Context) {
	username, _ := s.prompt("Username: ")
	password, _ := s.prompt("Password: ")
	resp, err := s.rt.CreateAccount(ctx, username, hashPassword(password))
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(resp.Message)
}

func (s *session) login(ctx context.Context) {
	username, _ := s.prompt("Username: ")
	password, _ := s.prompt("Password: ")
	resp, err := s.rt.Login(ctx, username, hashPassword(password))
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(resp.Message)
	if resp.Success {
		s.username = username
		fmt.Printf("You have %d unread messages\n", resp.UnreadCount)
	}
}

func (s *session) listAccounts(ctx context.Context) {
	if !s.requireLogin() {
		return
	}
	pattern, _ := s.prompt("Search pattern (empty for all): ")
	resp, err := s.rt.ListAccounts(ctx, s.username, pattern)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	for _, account := range resp.Accounts {
		fmt.Println(account)
	}
}

func (s *session) sendMessage(ctx context.Context) {
	if !s.requireLogin() {
		return
	}
	to, _ := s.prompt("To: ")
	content, _ := s.prompt("Message: ")
	resp, err := s.rt.SendMessage(ctx, s.username, to, content)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(resp.Message)
}

func (s *session) readNewMessages(ctx context.Context) {
	if !s.requireLogin() {
		return
	}
	raw, _ := s.prompt("How many (empty for all): ")
	var count int64
	if raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			fmt.Println("Not a number")
			return
		}
		count = n
	}
	resp, err := s.rt.ReadNewMessages(ctx, s.username, int32(count))
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(resp.Messages) == 0 {
		fmt.Println("No new messages")
		return
	}
	for _, m := range resp.Messages {
		fmt.Println(m)
	}
}

func (s *session) listMessages(ctx context.Context) {
	if !s.requireLogin() {
		return
	}
	resp, err := s.rt.ListMessages(ctx, s.username)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(resp.Messages) == 0 {
		fmt.Println("No messages")
		return
	}
	for _, m := range resp.Messages {
		fmt.Println(m)
	}
}

func (s *session) deleteMessages(ctx context.Context) {
	if !s.requireLogin() {
		return
	}
	raw, _ := s.prompt("Message ids, comma separated (-1 for all): ")
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			fmt.Println("Not a number:", part)
			return
		}
		ids = append(ids, id)
	}
	resp, err := s.rt.DeleteMessages(ctx, s.username, ids)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(resp.Message)
}

func (s *session) deleteAccount(ctx context.Context) {
	if !s.requireLogin() {
		return
	}
	confirm, _ := s.prompt("Type the username to confirm deletion: ")
	if confirm != s.username {
		fmt.Println("Aborted")
		return
	}
	resp, err := s.rt.DeleteAccount(ctx, s.username)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(resp.Message)
	if resp.Success {
		s.username = ""
	}
}
