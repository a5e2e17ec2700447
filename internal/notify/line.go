package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/model"
)

// LineSender pushes a text message to a LINE user through the Messaging API.
// Invalid tokens, rate limits and blocked recipients all surface as plain
// send failures; the dispatcher's retry ceiling handles them uniformly.
type LineSender struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

func NewLineSender(cfg config.LineConfig) *LineSender {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.line.me"
	}
	pushPerSecond := cfg.PushPerSecond
	if pushPerSecond <= 0 {
		pushPerSecond = 10
	}
	return &LineSender{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      cfg.ChannelToken,
		limiter:    rate.NewLimiter(rate.Limit(pushPerSecond), pushPerSecond),
	}
}

func (s *LineSender) Channel() model.DeliveryMethod { return model.DeliveryMethodLine }

type linePushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *LineSender) Send(ctx context.Context, recipient, subject, content string) error {
	if recipient == "" {
		return fmt.Errorf("line user id is required")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	text := content
	if subject != "" {
		text = subject + "\n\n" + content
	}
	body, err := json.Marshal(linePushRequest{
		To:       recipient,
		Messages: []lineMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/bot/message/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("line push returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
