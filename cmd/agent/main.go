// Command agent is a headless participant: it joins a room, wanders
// the map, and chats occasionally. Useful for populating a room during
// development and for load-testing the relay.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"syncverse/internal/client"
	"syncverse/internal/crdt"
	"syncverse/internal/entity"
	"syncverse/internal/identity"
	"syncverse/internal/motion"
	"syncverse/internal/reconcile"
	"syncverse/internal/world"
)

// agentSpeed is deliberately faster than a player so test rooms feel
// busy with a handful of agents.
const agentSpeed = 20.0

var phrases = []string{
	"hello!", "nice map", "anyone here?", "brb", "o/", "following you",
}

var colors = []entity.Color{
	entity.ColorAmber, entity.ColorBlack, entity.ColorBronze,
	entity.ColorGreen, entity.ColorLight, entity.ColorWhite,
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("[Agent] %v", err)
	}
}

func run() error {
	relayAddr := flag.String("relay", "http://127.0.0.1:8080", "relay base URL")
	roomID := flag.String("room", "lobby", "room to join")
	nickname := flag.String("nickname", "", "display name (default: random)")
	flag.Parse()

	name := *nickname
	if name == "" {
		name = fmt.Sprintf("agent-%04d", rand.Intn(10000))
	}

	userID, token, err := fetchGuestToken(*relayAddr, name)
	if err != nil {
		return fmt.Errorf("guest login: %w", err)
	}
	log.Printf("[Agent] Joined as %s (%s)", name, identity.ShortID(userID))

	session := identity.NewSession()
	head := colors[rand.Intn(len(colors))]
	body := colors[rand.Intn(len(colors))]
	session.Init(identity.User{
		UserID:    userID,
		Username:  userID,
		Nickname:  name,
		AuthType:  identity.AuthGuest,
		HeadColor: string(head),
		BodyColor: string(body),
	})

	doc := crdt.NewDoc()
	conn, err := client.New(doc, client.Options{
		URL:   wsURL(*relayAddr, *roomID),
		Token: token,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	// Writing into a replica that has not absorbed the room state yet
	// would create rival root containers and hide the peers already
	// there, so hold the bootstrap until the first sync lands.
	log.Printf("[Agent] Waiting for room state...")
	if err := conn.WaitReady(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	if err := conn.Awareness().SetLocalField("user", map[string]any{
		"name":      name,
		"headColor": head,
		"bodyColor": body,
	}); err != nil {
		log.Printf("[Agent] Awareness publish failed: %v", err)
	}

	table := entity.NewTable(doc)
	layer := reconcile.NewLayer(table, session, reconcile.Options{
		Boundary: world.Boundary{MaxX: 1500, MaxY: 1500},
	})
	stop := layer.Start()
	defer stop()
	defer layer.Close()

	ctrl := motion.NewController(agentSpeed,
		func(delta world.Delta, dir world.Direction) {
			layer.UpdateMyPosition(delta, dir)
		},
		func(dir world.Direction) {
			layer.StopMyMotion(dir)
		},
	)

	go wander(ctx, ctrl, layer)

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	<-exit
	log.Printf("[Agent] Shutting down")
	cancel()
	return nil
}

// wander drives the controller from a frame ticker, changing held
// direction every few seconds with idle pauses in between.
func wander(ctx context.Context, ctrl *motion.Controller, layer *reconcile.Layer) {
	frame := time.NewTicker(16 * time.Millisecond)
	defer frame.Stop()

	dirs := []world.Direction{world.DirUp, world.DirDown, world.DirLeft, world.DirRight}
	var held world.Direction
	nextTurn := time.Now()
	nextChat := time.Now().Add(time.Duration(10+rand.Intn(30)) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-frame.C:
			if now.After(nextTurn) {
				if held != "" {
					ctrl.Release(held)
					held = ""
				}
				// Roughly one pause in four.
				if rand.Intn(4) != 0 {
					held = dirs[rand.Intn(len(dirs))]
					ctrl.Press(held)
				}
				nextTurn = now.Add(time.Duration(500+rand.Intn(2500)) * time.Millisecond)
			}
			if now.After(nextChat) {
				layer.Say(phrases[rand.Intn(len(phrases))])
				nextChat = now.Add(time.Duration(20+rand.Intn(60)) * time.Second)
			}
			ctrl.Tick(now)
		}
	}
}

func fetchGuestToken(relayAddr, nickname string) (userID, token string, err error) {
	body, err := json.Marshal(map[string]string{"nickname": nickname})
	if err != nil {
		return "", "", err
	}
	resp, err := http.Post(relayAddr+"/auth/guest", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.UserID, out.Token, nil
}

func wsURL(relayAddr, roomID string) string {
	u, err := url.Parse(relayAddr)
	if err != nil {
		return relayAddr + "/ws/" + roomID
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + roomID
	return u.String()
}
