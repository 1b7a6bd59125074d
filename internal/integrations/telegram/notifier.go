package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"glucolink/internal/domain"
)

// Notifier sends out-of-range glucose alerts to a Telegram chat. With no
// token or chat id configured it is a no-op.
type Notifier struct {
	botToken string
	chatID   string
	lowMgdl  int
	highMgdl int
	apiBase  string
	client   *http.Client
}

func NewNotifier(botToken, chatID string, lowMgdl, highMgdl int) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		lowMgdl:  lowMgdl,
		highMgdl: highMgdl,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// AlertIfOutOfRange sends a message when the reading falls outside the
// configured thresholds. Alert failures are reported, never fatal.
func (n *Notifier) AlertIfOutOfRange(ctx context.Context, r domain.Reading) error {
	switch {
	case r.SGV < n.lowMgdl:
		return n.send(ctx, fmt.Sprintf("LOW glucose: %d mg/dL (%s) at %s",
			r.SGV, r.Direction, r.DeviceTimestamp.Format(time.RFC3339)))
	case r.SGV > n.highMgdl:
		return n.send(ctx, fmt.Sprintf("HIGH glucose: %d mg/dL (%s) at %s",
			r.SGV, r.Direction, r.DeviceTimestamp.Format(time.RFC3339)))
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || text == "" {
		return nil
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)

	raw, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telegram sendMessage returned status %d", resp.StatusCode)
	}
	return nil
}
