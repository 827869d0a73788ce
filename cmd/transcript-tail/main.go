// Command transcript-tail connects to a running copilot server and prints
// live transcripts as "[speaker] text" lines.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	serverURL    string
	token        string
	startMeeting bool
	title        string
	interim      bool
}

type serverMessage struct {
	Type      string  `json:"type"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	Source    string  `json:"source"`
	Message   string  `json:"message"`
	ErrorCode string  `json:"error_code"`
	Details   string  `json:"details"`
	InReplyTo string  `json:"in_reply_to"`
	Level     float64 `json:"level"`
}

func main() {
	var opts options
	pflag.StringVarP(&opts.serverURL, "url", "u", "http://localhost:8080", "copilot server base URL")
	pflag.StringVarP(&opts.token, "token", "t", "", "UI token; requested from the server in development mode when empty")
	pflag.BoolVar(&opts.startMeeting, "start-meeting", false, "start a meeting on connect and end it on exit")
	pflag.StringVar(&opts.title, "title", "", "meeting title used with --start-meeting")
	pflag.BoolVar(&opts.interim, "interim", false, "also print interim results")
	pflag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		logger.Fatal("transcript-tail failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, out io.Writer, logger *zap.Logger) error {
	if opts.token == "" {
		token, err := requestToken(ctx, opts.serverURL)
		if err != nil {
			return fmt.Errorf("failed to get a token: %w", err)
		}
		opts.token = token
	}

	endpoint, err := websocketURL(opts.serverURL, opts.token)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	defer conn.Close()
	logger.Info("Connected", zap.String("url", opts.serverURL))

	if opts.startMeeting {
		if err := conn.WriteJSON(map[string]interface{}{"type": "start_meeting", "title": opts.title}); err != nil {
			return fmt.Errorf("failed to start meeting: %w", err)
		}
	}

	messages := make(chan serverMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg serverMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if opts.startMeeting {
				conn.WriteJSON(map[string]string{"type": "end_meeting"})
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)

		case msg := <-messages:
			if line, ok := formatMessage(msg, opts.interim); ok {
				fmt.Fprintln(out, line)
			}
		}
	}
}

// formatMessage renders the lines worth printing; levels and pongs are skipped
func formatMessage(msg serverMessage, interim bool) (string, bool) {
	switch msg.Type {
	case "transcript":
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return "", false
		}
		if !msg.IsFinal {
			if !interim {
				return "", false
			}
			return fmt.Sprintf("[%s] %s ...", msg.Speaker, text), true
		}
		return fmt.Sprintf("[%s] %s", msg.Speaker, text), true
	case "source_error":
		return fmt.Sprintf("! capture %s: %s", msg.Source, msg.Message), true
	case "stream_error":
		return fmt.Sprintf("! recognizer %s: %s", msg.Speaker, msg.Message), true
	case "error":
		return fmt.Sprintf("! %s: %s", msg.ErrorCode, msg.Details), true
	case "session_state":
		return fmt.Sprintf("# %s applied", msg.InReplyTo), true
	default:
		return "", false
	}
}

func websocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func requestToken(ctx context.Context, base string) (string, error) {
	body, _ := json.Marshal(map[string]string{"client_id": "transcript-tail"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(base, "/")+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	return tokenResp.Token, nil
}
