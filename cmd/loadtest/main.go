package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

var (
	baseURL  = flag.String("url", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs; each pair chats over direct channels")
	msgCount = flag.Int("messages", 20, "messages sent by each user")
	interval = flag.Duration("interval", 10*time.Millisecond, "pause between messages")

	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
)

func main() {
	flag.Parse()

	log.Info().Int("users", *pairs*2).Int("messages", *msgCount).Msg("starting load test")
	start := time.Now()

	var st stats
	var wg sync.WaitGroup

	// Pairs: user 0a talks to 0b, 1a to 1b...
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID, &st)
		}(i)
	}

	wg.Wait()
	log.Info().
		Int64("sent", st.sent.Load()).
		Int64("received", st.received.Load()).
		Int64("failed", st.failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func runPair(pairID int, st *stats) {
	pass := "password123"
	a, err := authenticate(fmt.Sprintf("u_%d_a", pairID), pass)
	if err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("auth failed")
		st.failed.Add(1)
		return
	}
	b, err := authenticate(fmt.Sprintf("u_%d_b", pairID), pass)
	if err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("auth failed")
		st.failed.Add(1)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go spamChat(&wg, a, b.ID, st)
	go spamChat(&wg, b, a.ID, st)
	wg.Wait()
}

// authenticate registers (an existing user is fine) and logs in.
func authenticate(username, password string) (*AuthResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON("/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func spamChat(wg *sync.WaitGroup, self *AuthResponse, peerID string, st *stats) {
	defer wg.Done()

	wsURL := strings.Replace(*baseURL, "http", "ws", 1) +
		"/ws/direct/" + url.PathEscape(peerID) + "?token=" + url.QueryEscape(self.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error().Err(err).Str("user", self.Username).Msg("websocket connect failed")
		st.failed.Add(1)
		return
	}
	defer conn.Close()

	// Count echoes and peer messages until the socket goes quiet.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			st.received.Add(1)
		}
	}()

	for i := 0; i < *msgCount; i++ {
		text := fmt.Sprintf("LoadTest Msg %d from %s", i, self.Username)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			log.Error().Err(err).Str("user", self.Username).Msg("send failed")
			st.failed.Add(1)
			break
		}
		st.sent.Add(1)
		time.Sleep(*interval)
	}

	<-done
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.Debug().Str("user", self.Username).Int("messages", *msgCount).Msg("finished")
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
