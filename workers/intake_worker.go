package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"duel-bot/services"
)

// IntakeClient pulls artifact posts from the chat relay. The relay watches
// every registered channel and records each video post it sees; this worker
// is what turns those observations into settlements.
type IntakeClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Settlement *services.SettlementService
}

func NewIntakeClient(settlement *services.SettlementService) *IntakeClient {
	baseURL := os.Getenv("RELAY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("RELAY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("DUEL_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("DUEL_SERVICE_TOKEN environment variable is required for artifact intake")
	}

	return &IntakeClient{
		BaseURL:    baseURL,
		Token:      token,
		Settlement: settlement,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetArrivals fetches posts observed since the cursor, oldest first. The
// relay keeps them ordered by receipt, which is the order wins are decided
// in.
func (c *IntakeClient) GetArrivals(ctx context.Context, since time.Time) ([]services.ArrivalEvent, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/artifacts", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339Nano))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call relay service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("relay service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Arrivals []services.ArrivalEvent `json:"arrivals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode relay response: %w", err)
	}

	return response.Arrivals, nil
}

// PollArrivals feeds observed posts into the settlement engine in receipt
// order. The cursor only advances past arrivals that were processed, so a
// failed settlement is retried on the next tick.
func PollArrivals(ctx context.Context, client *IntakeClient, pollInterval time.Duration) {
	log.Println("Starting artifact intake polling...")
	cursor := time.Now().UTC()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Artifact intake polling stopped.")
			return
		case <-ticker.C:
			arrivals, err := client.GetArrivals(ctx, cursor)
			if err != nil {
				log.Printf("❌ Error polling arrivals: %v", err)
				continue
			}
			if len(arrivals) == 0 {
				continue
			}
			log.Printf("📥 Received %d artifact post(s) from relay.", len(arrivals))

			for _, ev := range arrivals {
				if err := client.Settlement.HandleArrival(ctx, ev); err != nil {
					log.Printf("❌ Failed to process arrival in %s: %v", ev.Channel, err)
					// Do NOT advance the cursor past this arrival — retry next tick
					break
				}
				cursor = ev.ArrivedAt
			}
		}
	}
}
