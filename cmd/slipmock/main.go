package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// VerifyRequest is what the gateway posts for every uploaded slip.
type VerifyRequest struct {
	Image string `json:"image" binding:"required"`
}

type Name struct {
	TH string `json:"th"`
	EN string `json:"en"`
}

type BankAccount struct {
	Type    string `json:"type"`
	Account string `json:"account"`
}

type Party struct {
	Bank struct {
		ID string `json:"id"`
	} `json:"bank"`
	Account struct {
		Name Name        `json:"name"`
		Bank BankAccount `json:"bank"`
	} `json:"account"`
}

type SlipData struct {
	TransRef string `json:"transRef"`
	Date     string `json:"date"`
	Amount   struct {
		Amount float64 `json:"amount"`
	} `json:"amount"`
	Sender   Party `json:"sender"`
	Receiver Party `json:"receiver"`
}

type VerifyResponse struct {
	Status  int       `json:"status"`
	Message string    `json:"message,omitempty"`
	Data    *SlipData `json:"data,omitempty"`
}

// Notification is the body the notifier posts to the sink.
type Notification struct {
	UserName string `json:"userName" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	TransRef string `json:"transRef" binding:"required"`
}

// MockProvider answers like a slip verification service. The transaction
// reference is derived from the image bytes, so uploading the same file
// twice yields the same slip.
type MockProvider struct {
	mu           sync.Mutex
	providerID   string
	apiKey       string
	amount       float64
	receiver     Party
	rejectRate   float64
	minDelay     time.Duration
	maxDelay     time.Duration
	rng          *rand.Rand
	location     *time.Location
	notification []Notification
}

func NewMockProvider(apiKey string, amount float64, receiver Party) *MockProvider {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return &MockProvider{
		providerID: "MOCK_VERIFIER_" + uuid.New().String()[:8],
		apiKey:     apiKey,
		amount:     amount,
		receiver:   receiver,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		location:   loc,
	}
}

func (m *MockProvider) delay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(m.maxDelay-m.minDelay)))
}

func (m *MockProvider) shouldReject() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.rejectRate
}

func (m *MockProvider) slipFor(image []byte) *SlipData {
	sum := sha256.Sum256(image)
	ref := strings.ToUpper(hex.EncodeToString(sum[:10]))

	m.mu.Lock()
	amount := m.amount
	m.mu.Unlock()

	slip := &SlipData{
		TransRef: ref,
		Date:     time.Now().In(m.location).Format(time.RFC3339),
		Receiver: m.receiver,
	}
	slip.Amount.Amount = amount
	slip.Sender.Bank.ID = "004"
	slip.Sender.Account.Name = Name{TH: "นาย ทดสอบ ระบบ", EN: "MR TEST SYSTEM"}
	slip.Sender.Account.Bank = BankAccount{Type: "BANKAC", Account: "xxx-x-x1234-x"}
	return slip
}

type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

func (h *Handler) Verify(c *gin.Context) {
	if h.provider.apiKey != "" && c.GetHeader("Authorization") != "Bearer "+h.provider.apiKey {
		c.JSON(http.StatusUnauthorized, VerifyResponse{Status: http.StatusUnauthorized, Message: "invalid api key"})
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, VerifyResponse{Status: http.StatusBadRequest, Message: err.Error()})
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(image) == 0 {
		c.JSON(http.StatusBadRequest, VerifyResponse{Status: http.StatusBadRequest, Message: "image is not valid base64"})
		return
	}

	time.Sleep(h.provider.delay())

	if h.provider.shouldReject() {
		log.Warn().Int("size", len(image)).Msg("slip rejected")
		c.JSON(http.StatusNotFound, VerifyResponse{Status: http.StatusNotFound, Message: "slip not found"})
		return
	}

	slip := h.provider.slipFor(image)
	log.Info().
		Str("trans_ref", slip.TransRef).
		Float64("amount", slip.Amount.Amount).
		Int("size", len(image)).
		Msg("slip verified")
	c.JSON(http.StatusOK, VerifyResponse{Status: http.StatusOK, Data: slip})
}

// Notify records what the notifier delivers.
func (h *Handler) Notify(c *gin.Context) {
	var n Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	h.provider.mu.Lock()
	h.provider.notification = append(h.provider.notification, n)
	h.provider.mu.Unlock()

	log.Info().
		Str("trans_ref", n.TransRef).
		Str("user", n.UserName).
		Str("amount", n.Amount).
		Str("idempotency_key", c.GetHeader("Idempotency-Key")).
		Msg("deposit notification received")
	c.JSON(http.StatusOK, gin.H{"message": "received"})
}

func (h *Handler) Notifications(c *gin.Context) {
	h.provider.mu.Lock()
	defer h.provider.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"notifications": append([]Notification{}, h.provider.notification...)})
}

// UpdateConfig changes the mock's answers at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		Amount     *float64 `json:"amount"`
		RejectRate *float64 `json:"reject_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	h.provider.mu.Lock()
	defer h.provider.mu.Unlock()
	if config.Amount != nil && *config.Amount > 0 {
		h.provider.amount = *config.Amount
	}
	if config.RejectRate != nil && *config.RejectRate >= 0 && *config.RejectRate <= 1 {
		h.provider.rejectRate = *config.RejectRate
	}
	log.Info().Float64("amount", h.provider.amount).Float64("reject_rate", h.provider.rejectRate).Msg("config updated")
	c.JSON(http.StatusOK, gin.H{"amount": h.provider.amount, "reject_rate": h.provider.rejectRate})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "provider_id": h.provider.providerID, "timestamp": time.Now()})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	router.POST("/verify", handler.Verify)
	router.POST("/notify", handler.Notify)
	router.GET("/notify", handler.Notifications)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.Health)
	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	gin.SetMode(gin.ReleaseMode)

	port := getEnv("PORT", "8081")
	receiver := Party{}
	receiver.Bank.ID = getEnv("RECEIVER_BANK_ID", "014")
	receiver.Account.Name = Name{
		TH: getEnv("RECEIVER_NAME_TH", "บริษัท ทองคำ จำกัด"),
		EN: getEnv("RECEIVER_NAME_EN", "GOLD CO LTD"),
	}
	receiver.Account.Bank = BankAccount{
		Type:    getEnv("RECEIVER_ACCOUNT_TYPE", "BANKAC"),
		Account: getEnv("RECEIVER_ACCOUNT", "123-4-56789-0"),
	}

	provider := NewMockProvider(os.Getenv("API_KEY"), getEnvFloat("SLIP_AMOUNT", 2000), receiver)
	provider.rejectRate = getEnvFloat("REJECT_RATE", 0)
	provider.minDelay = getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	provider.maxDelay = getEnvDuration("MAX_DELAY", 300*time.Millisecond)

	log.Info().
		Str("port", port).
		Str("provider_id", provider.providerID).
		Float64("amount", provider.amount).
		Float64("reject_rate", provider.rejectRate).
		Msg("starting mock slip provider")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewHandler(provider)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
