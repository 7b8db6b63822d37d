package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"syncverse/internal/auth"
	"syncverse/internal/config"
	"syncverse/internal/identity"
	"syncverse/internal/presence"
	"syncverse/internal/relay"
)

// Server wraps the Fiber app and the room relay.
type Server struct {
	app          *fiber.App
	cfg          *config.Config
	hub          *relay.Hub
	tokenManager *auth.TokenManager
	presence     *presence.Manager // optional
	store        *identity.Store   // optional
}

// Options carries the optional backends.
type Options struct {
	Presence *presence.Manager
	Store    *identity.Store
}

// New builds the server.
func New(cfg *config.Config, hub *relay.Hub, opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:        "Syncverse Relay",
		ServerHeader:   "Fiber",
		StrictRouting:  true,
		CaseSensitive:  true,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		Prefork:        false, // incompatible with WebSocket
		ReadBufferSize: 16384,
	})

	return &Server{
		app:          app,
		cfg:          cfg,
		hub:          hub,
		tokenManager: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		presence:     opts.Presence,
		store:        opts.Store,
	}
}

// SetupMiddleware installs the standard middleware chain.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: false,
	}))
}

// SetupRoutes installs the HTTP and websocket routes.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Token issuance is the brute-forceable surface; rate-limit it.
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	authGroup := s.app.Group("/auth")
	authGroup.Post("/guest", authLimiter, s.handleGuestToken)

	api := s.app.Group("/api", auth.Middleware(s.tokenManager))
	api.Get("/rooms", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"rooms": s.hub.Rooms()})
	})
	api.Get("/rooms/:roomId/members", s.handleRoomMembers)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/:roomId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		claims, err := s.tokenManager.ValidateConnectionToken(token)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		roomID := c.Params("roomId")
		if roomID == "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		c.Locals("roomId", roomID)
		c.Locals("userId", claims.UserID())
		c.Locals("nickname", claims.Nickname)

		return c.Next()
	}, websocket.New(s.handleRoomSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// handleGuestToken mints a guest identity and its connection token.
func (s *Server) handleGuestToken(c *fiber.Ctx) error {
	if !s.cfg.Auth.AllowGuests {
		return c.SendStatus(fiber.StatusForbidden)
	}

	var body struct {
		Nickname string `json:"nickname"`
	}
	_ = c.BodyParser(&body)

	userID := identity.NewGuestID()
	nickname := body.Nickname
	if nickname == "" {
		nickname = userID
	}

	token, err := s.tokenManager.IssueConnectionToken(userID, "", nickname, true)
	if err != nil {
		log.Printf("[Server] Token issue failed: %v", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	if s.store != nil {
		if err := s.store.EnsureUser(userID, nickname, string(identity.AuthGuest)); err != nil {
			log.Printf("[Server] Guest user persist failed: %v", err)
		}
	}

	return c.JSON(fiber.Map{
		"userId":   userID,
		"nickname": nickname,
		"token":    token,
	})
}

// handleRoomMembers reports coarse room occupancy from the presence
// store.
func (s *Server) handleRoomMembers(c *fiber.Ctx) error {
	if s.presence == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "presence store not configured",
		})
	}
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()
	members, err := s.presence.RoomMembers(ctx, c.Params("roomId"))
	if err != nil {
		log.Printf("[Server] Presence lookup failed: %v", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"members": members})
}

// handleRoomSocket binds an upgraded connection into its room.
func (s *Server) handleRoomSocket(ws *websocket.Conn) {
	roomID, _ := ws.Locals("roomId").(string)
	userID, _ := ws.Locals("userId").(string)
	nickname, _ := ws.Locals("nickname").(string)

	room, err := s.hub.GetOrCreateRoom(roomID)
	if err != nil {
		log.Printf("[Server] Room %s unavailable: %v", roomID, err)
		ws.Close()
		return
	}

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.presence.Connected(ctx, roomID, userID, nickname); err != nil {
			log.Printf("[Server] Presence register failed: %v", err)
		}
		cancel()

		hbCtx, hbStop := context.WithCancel(context.Background())
		go s.heartbeatLoop(hbCtx, roomID, userID)
		defer func() {
			hbStop()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.presence.Disconnected(ctx, roomID, userID); err != nil {
				log.Printf("[Server] Presence remove failed: %v", err)
			}
		}()
	}

	room.HandleConnection(ws, userID)
}

// heartbeatLoop refreshes the presence TTL for the life of a room
// connection. The interval stays well inside the TTL so a healthy
// connection never lapses.
func (s *Server) heartbeatLoop(ctx context.Context, roomID, userID string) {
	interval := s.cfg.Redis.TTL / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := s.presence.Heartbeat(hbCtx, roomID, userID); err != nil {
				log.Printf("[Server] Presence heartbeat failed: %v", err)
			}
			cancel()
		}
	}
}

// Start runs the server with graceful shutdown; the snapshot loop
// stops with it.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.RunSnapshots(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		cancel()
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Syncverse relay starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/{roomId}", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
