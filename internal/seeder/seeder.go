package seeder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/ingest"
	"github.com/Datafloww/server/internal/tenants"
)

// Seeder populates a development database with a tenant, its write key
// and a batch of realistic tracking traffic pushed through the ingestion
// pipeline.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	EventCount int
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
	}
}

// Run executes the seeding process
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount))

	tenant, writeKey, err := s.seedTenant()
	if err != nil {
		return fmt.Errorf("failed to seed tenant: %w", err)
	}

	if err := s.generateRealisticTraffic(ctx, tenant, writeKey); err != nil {
		return fmt.Errorf("failed to generate traffic for %s: %w", tenant.TenantID, err)
	}

	s.Logger.Info("Seeding completed successfully",
		slog.String("tenant_id", tenant.TenantID),
		slog.String("write_key", writeKey),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// seedTenant ensures the default development tenant exists and has a
// usable write key. The key is regenerated on every run so the plaintext
// can be printed for local SDK configuration.
func (s *Seeder) seedTenant() (*tenants.Tenant, string, error) {
	db := s.DBManager.GetConnection()

	var tenant tenants.Tenant
	err := db.Where("email = ?", "dev@example.com").First(&tenant).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", fmt.Errorf("failed to check for existing tenant: %w", err)
		}

		s.Logger.Info("Creating development tenant")
		created, err := tenants.CreateTenant(db, s.Logger, "dev@example.com")
		if err != nil {
			return nil, "", fmt.Errorf("failed to create tenant: %w", err)
		}
		tenant = *created
	} else {
		s.Logger.Info("Development tenant already exists", slog.String("tenant_id", tenant.TenantID))
	}

	writeKey, err := tenants.GenerateWriteKey(db, s.Logger, tenant.TenantID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate write key: %w", err)
	}

	return &tenant, writeKey, nil
}

// generateRealisticTraffic pushes journey-based sessions through the
// ingestion pipeline so sessions, visitors and events all get populated
// the same way production traffic would populate them.
func (s *Seeder) generateRealisticTraffic(ctx context.Context, tenant *tenants.Tenant, writeKey string) error {
	logger := s.Logger
	keys := tenants.NewKeyStore(s.DBManager.GetConnection())
	userAgents := getUserAgents()
	referrers := getReferrers()
	eventsCreated := 0

	journeyTemplates := [][]string{
		{"/", "/about", "/contact"},
		{"/", "/features", "/pricing", "/signup"},
		{"/", "/blog", "/blog/article-1", "/signup"},
		{"/pricing", "/features", "/signup"},
		{"/", "/products", "/products/widget-a", "/pricing"},
		{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
		{"/", "/signup"},
		{"/login", "/dashboard", "/settings"},
	}

	interactions := []string{
		"Button Clicked",
		"Form Submitted",
		"Video Played",
		"Link Clicked",
	}

	avgPagesPerSession := 4
	numSessions := s.EventCount / avgPagesPerSession
	if numSessions < 10 {
		numSessions = 10
	}

	for session := 0; session < numSessions; session++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		journey := journeyTemplates[rand.IntN(len(journeyTemplates))]
		userAgent := userAgents[rand.IntN(len(userAgents))]
		referrer := referrers[rand.IntN(len(referrers))]
		sessionID := uuid.NewString()
		anonID := uuid.NewString()

		// Roughly a third of visitors are identified
		userID := ""
		if rand.IntN(3) == 0 {
			userID = fmt.Sprintf("user-%d", rand.IntN(500))
		}

		baseTime := time.Now().Add(-time.Duration(rand.IntN(30*24*60*60)) * time.Second)
		cumulativeTime := time.Duration(0)

		for pageIndex, path := range journey {
			if pageIndex > 0 {
				cumulativeTime += time.Duration(rand.IntN(110)+10) * time.Second
			}

			input := &ingest.Input{
				EventName: "Page Viewed",
				EventType: "page",
				WriteKey:  writeKey,
				SessionID: sessionID,
				UserID:    userID,
				AnonID:    anonID,
				Timestamp: baseTime.Add(cumulativeTime),
				URL:       fmt.Sprintf("https://example.com%s", path),
				Path:      path,
				Hostname:  "example.com",
				Referrer:  referrer,
				UserAgent: userAgent,
				Language:  "en-US",
				ClientIP:  randomIP(),
			}

			if _, err := ingest.Ingest(s.DBManager, logger, keys, input); err != nil {
				logger.Error("Failed to ingest event during seeding", slog.Any("error", err))
			} else {
				eventsCreated++
			}

			// External referrer only applies to the entry page
			if pageIndex == 0 {
				referrer = ""
			}
		}

		// Some sessions also fire an interaction event (20% chance)
		if rand.Float64() < 0.2 {
			input := &ingest.Input{
				EventName: interactions[rand.IntN(len(interactions))],
				EventType: "track",
				WriteKey:  writeKey,
				SessionID: sessionID,
				UserID:    userID,
				AnonID:    anonID,
				Timestamp: baseTime.Add(cumulativeTime + time.Minute),
				URL:       fmt.Sprintf("https://example.com%s", journey[len(journey)-1]),
				Path:      journey[len(journey)-1],
				Hostname:  "example.com",
				UserAgent: userAgent,
				Properties: map[string]interface{}{
					"source": "seeder",
				},
			}

			if _, err := ingest.Ingest(s.DBManager, logger, keys, input); err != nil {
				logger.Error("Failed to ingest interaction during seeding", slog.Any("error", err))
			} else {
				eventsCreated++
			}
		}
	}

	s.Logger.Info("Generated journey-based traffic",
		slog.String("tenant_id", tenant.TenantID),
		slog.Int("sessions", numSessions),
		slog.Int("totalEvents", eventsCreated))
	return nil
}

// randomIP returns a random public-looking IPv4 address
func randomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", rand.IntN(255)+1, rand.IntN(256), rand.IntN(256), rand.IntN(256))
}

// getUserAgents returns a list of common user agent strings
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36 Edg/108.0.1462.54",
	}
}

// getReferrers returns a list of common referrer URLs
func getReferrers() []string {
	return []string{
		"", // Direct visit
		"https://google.com",
		"https://bing.com",
		"https://duckduckgo.com",
		"https://twitter.com",
		"https://linkedin.com",
		"https://github.com",
	}
}
