package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

const iceFetchTimeout = 5 * time.Second

// DefaultICEServers is used when the server cannot hand out its own list.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
}

// FetchICEServers asks the server for STUN/TURN settings. Any failure falls
// back to DefaultICEServers so a call can still start.
func FetchICEServers(ctx context.Context, client *http.Client, url, token string, log *slog.Logger) []webrtc.ICEServer {
	const op = "peer.FetchICEServers"

	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("op", op))

	servers, err := fetchICEServers(ctx, client, url, token)
	if err != nil {
		log.Warn("using default ice servers", sl.Err(err))
		return DefaultICEServers()
	}
	return servers
}

func fetchICEServers(ctx context.Context, client *http.Client, url, token string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, iceFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body iceServersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.ICEServers) == 0 {
		return nil, fmt.Errorf("empty ice server list")
	}
	return body.ICEServers, nil
}
