// ABOUTME: Interactive terminal client for the thunderchat relay server.
// ABOUTME: Usage: thunderchat-cli [-server http://localhost:3000] [-username admin]

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/gbelintani2/thunderchat/internal/convo"
	"github.com/gbelintani2/thunderchat/internal/event"
	"github.com/gbelintani2/thunderchat/internal/session"
)

func main() {
	server := flag.String("server", "http://localhost:3000", "thunderchat server URL")
	username := flag.String("username", "admin", "login username")
	password := flag.String("password", "", "login password (or THUNDERCHAT_PASSWORD)")
	identity := flag.String("identity", "", "client identity for the local snapshot (defaults to username)")
	dbPath := flag.String("db", defaultDBPath(), "path to the local snapshot database")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *password == "" {
		*password = os.Getenv("THUNDERCHAT_PASSWORD")
	}
	if *password == "" {
		fmt.Fprintln(os.Stderr, "Error: -password or THUNDERCHAT_PASSWORD is required")
		os.Exit(1)
	}
	if *identity == "" {
		*identity = *username
	}

	if err := run(*server, *username, *password, *identity, *dbPath, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// defaultDBPath returns the snapshot database location under XDG data dirs.
func defaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "thunderchat.db"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "thunderchat", "client.db")
}

func run(server, username, password, identity, dbPath string, debug bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	token, err := login(ctx, server, username, password)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	snapshots, err := convo.NewSQLiteSnapshots(dbPath)
	if err != nil {
		return fmt.Errorf("opening snapshot database: %w", err)
	}
	defer snapshots.Close()

	sender := &apiSender{server: server, token: token}
	store := convo.NewStore(identity, sender, snapshots, logger.With("component", "convo"))

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)

	handler := &printingHandler{store: store, gray: gray, cyan: cyan}
	dialer := &session.WebsocketDialer{URL: server, Token: token}
	sess := session.New(dialer, handler, session.Options{
		Logger: logger.With("component", "session"),
		OnStateChange: func(st session.State) {
			gray.Fprintf(os.Stderr, "[%s]\n", st)
		},
	})

	sessDone := make(chan error, 1)
	go func() { sessDone <- sess.Run(ctx) }()

	fmt.Printf("Connected to %s as %s\n", server, username)
	fmt.Println("Commands: /open <number>, /list, /close, /quit. Anything else is sent to the open conversation.")

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sessDone:
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				return nil
			}
			if quit := handleLine(ctx, store, line); quit {
				cancel()
				return nil
			}
		}
	}
}

// handleLine executes one line of user input. Returns true when the user
// asked to quit.
func handleLine(ctx context.Context, store *convo.Store, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch {
	case line == "/quit":
		return true
	case line == "/list":
		printConversations(store)
	case line == "/close":
		store.Deactivate()
		fmt.Println("conversation closed")
	case strings.HasPrefix(line, "/open "):
		counterpart := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
		if counterpart == "" {
			fmt.Println("usage: /open <number>")
			return false
		}
		store.Activate(counterpart)
		printHistory(store, counterpart)
	case strings.HasPrefix(line, "/"):
		fmt.Printf("unknown command: %s\n", line)
	default:
		active := store.Active()
		if active == "" {
			fmt.Println("no open conversation; use /open <number> first")
			return false
		}
		msg, err := store.Send(ctx, active, line)
		if err != nil {
			color.Red("send failed: %v", err)
			return false
		}
		color.New(color.FgHiBlack).Printf("  -> %s [%s]\n", msg.Text, msg.Status)
	}
	return false
}

func printConversations(store *convo.Store) {
	counterparts := store.Counterparts()
	if len(counterparts) == 0 {
		fmt.Println("no conversations yet")
		return
	}
	for _, id := range counterparts {
		conv, ok := store.Conversation(id)
		if !ok {
			continue
		}
		marker := " "
		if id == store.Active() {
			marker = "*"
		}
		unread := ""
		if conv.Unread > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.Unread)
		}
		fmt.Printf("%s %s  %s%s\n", marker, id, conv.Name, unread)
	}
}

func printHistory(store *convo.Store, counterpart string) {
	conv, ok := store.Conversation(counterpart)
	if !ok {
		return
	}
	name := conv.Name
	if name == "" {
		name = counterpart
	}
	fmt.Printf("--- %s ---\n", name)
	for _, msg := range conv.Messages {
		ts := time.Unix(msg.Timestamp, 0).Format("15:04")
		if msg.Direction == convo.DirectionSent {
			fmt.Printf("%s me: %s [%s]\n", ts, msg.Text, msg.Status)
		} else {
			fmt.Printf("%s %s: %s\n", ts, name, msg.Text)
		}
	}
}

// printingHandler applies events to the store and echoes incoming messages
// for the open conversation.
type printingHandler struct {
	store *convo.Store
	gray  *color.Color
	cyan  *color.Color
}

func (h *printingHandler) Apply(env *event.Envelope) {
	h.store.Apply(env)

	switch env.Type {
	case event.TypeIncomingMessage:
		if env.From == h.store.Active() {
			name := env.Name
			if name == "" {
				name = env.From
			}
			h.cyan.Printf("%s: %s\n", name, env.Text)
		} else {
			h.gray.Fprintf(os.Stderr, "new message from %s\n", env.From)
		}
	case event.TypeStatusUpdate:
		h.gray.Fprintf(os.Stderr, "message %s is now %s\n", env.MessageID, env.Status)
	}
}

// readLines pumps stdin lines into a channel so the main loop can also watch
// the session and signal context.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

func login(ctx context.Context, server, username, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("logging in: %w", err)
	}
	defer resp.Body.Close()

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", loginResp.Error)
	}
	return loginResp.Token, nil
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// apiSender submits outbound messages through the server's send endpoint.
type apiSender struct {
	server string
	token  string
}

func (s *apiSender) Send(ctx context.Context, to, text string) (string, error) {
	body, err := json.Marshal(sendRequest{To: to, Text: text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.server+"/api/send", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sendResp sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send rejected: %s", sendResp.Error)
	}
	return sendResp.MessageID, nil
}
