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

// ProfileSyncClient mirrors display names from the chat relay so challenge
// targets like "@SomeUser" resolve even for players who never called the
// service themselves.
type ProfileSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Registry   *services.RegistryService
}

type relayProfile struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

func NewProfileSyncClient(registry *services.RegistryService) *ProfileSyncClient {
	baseURL := os.Getenv("RELAY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("RELAY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("DUEL_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("DUEL_SERVICE_TOKEN environment variable is required for profile sync")
	}

	return &ProfileSyncClient{
		BaseURL:  baseURL,
		Token:    token,
		Registry: registry,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ProfileSyncClient) GetChangedProfiles(ctx context.Context, since time.Time) ([]relayProfile, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/profiles", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
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
		Profiles []relayProfile `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode relay response: %w", err)
	}

	return response.Profiles, nil
}

// PollProfiles keeps the player registry's usernames in step with the chat
// relay. Failures leave the window untouched so the same batch is retried.
func PollProfiles(ctx context.Context, client *ProfileSyncClient, pollInterval time.Duration) {
	log.Println("Starting profile sync polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Profile sync polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			profiles, err := client.GetChangedProfiles(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling profiles: %v", err)
				continue
			}
			if len(profiles) == 0 {
				continue
			}
			log.Printf("📥 Received %d profile change(s) from relay.", len(profiles))

			failed := false
			for _, p := range profiles {
				if p.PlayerID == "" {
					continue
				}
				if _, err := client.Registry.GetOrCreate(p.PlayerID, p.Username); err != nil {
					log.Printf("❌ Failed to upsert profile %s: %v", p.PlayerID, err)
					failed = true
				}
			}
			if failed {
				// retry same window next tick
				continue
			}
			lastSyncTime = logTime
		}
	}
}
