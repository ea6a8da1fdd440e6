package service

import (
	"fmt"
	"time"

	"github.com/pion/turn/v2"
	"github.com/pion/webrtc/v3"
)

// ICEService hands out the STUN list and, when a shared secret is set,
// TURN entries with time-windowed long-term credentials: the username is the
// unix expiry and the password is derived from it with the shared secret.
type ICEService struct {
	stun       []string
	turnURLs   []string
	turnSecret string
	ttl        time.Duration
}

func NewICEService(stun, turnURLs []string, turnSecret string, ttl time.Duration) *ICEService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &ICEService{
		stun:       stun,
		turnURLs:   turnURLs,
		turnSecret: turnSecret,
		ttl:        ttl,
	}
}

func (s *ICEService) ICEServers() ([]webrtc.ICEServer, error) {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(s.stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: append([]string(nil), s.stun...)})
	}
	if s.turnSecret == "" || len(s.turnURLs) == 0 {
		return servers, nil
	}

	username, password, err := turn.GenerateLongTermCredentials(s.turnSecret, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("generating turn credentials: %w", err)
	}
	servers = append(servers, webrtc.ICEServer{
		URLs:           append([]string(nil), s.turnURLs...),
		Username:       username,
		Credential:     password,
		CredentialType: webrtc.ICECredentialTypePassword,
	})
	return servers, nil
}
