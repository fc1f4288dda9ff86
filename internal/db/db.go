package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	dsn := path
	if path != MemoryPath {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every connection to :memory: is a separate database
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationTemplates,
		migrationTestCampaigns,
		migrationVariants,
		migrationMetricSnapshots,
		migrationDeliveryHistory,
		migrationTestResults,
		migrationRecommendations,
		migrationAutomationConfigurations,
		migrationNotificationChannels,
		migrationVariantRules,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    name TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL DEFAULT 'email',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_templates_salon ON templates(salon_id);
`

const migrationTestCampaigns = `
CREATE TABLE IF NOT EXISTS test_campaigns (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    name TEXT NOT NULL,
    base_template_id TEXT REFERENCES templates(id) ON DELETE SET NULL,
    test_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_test_campaigns_salon ON test_campaigns(salon_id);
CREATE INDEX IF NOT EXISTS idx_test_campaigns_status ON test_campaigns(status);
`

const migrationVariants = `
CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES test_campaigns(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    is_control BOOLEAN NOT NULL DEFAULT 0,
    template_overrides TEXT,
    channel_override TEXT,
    audience_percentage INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_variants_campaign ON variants(campaign_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_variants_single_winner ON variants(campaign_id) WHERE status = 'winner';
`

const migrationMetricSnapshots = `
CREATE TABLE IF NOT EXISTS metric_snapshots (
    id TEXT PRIMARY KEY,
    variant_id TEXT NOT NULL REFERENCES variants(id) ON DELETE CASCADE,
    snapshot_date TEXT NOT NULL,
    sent_count INTEGER NOT NULL DEFAULT 0,
    delivered_count INTEGER NOT NULL DEFAULT 0,
    open_count INTEGER NOT NULL DEFAULT 0,
    click_count INTEGER NOT NULL DEFAULT 0,
    conversion_count INTEGER NOT NULL DEFAULT 0,
    bounce_count INTEGER NOT NULL DEFAULT 0,
    participant_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(variant_id, snapshot_date)
);
`

const migrationDeliveryHistory = `
CREATE TABLE IF NOT EXISTS delivery_history (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    campaign_id TEXT,
    variant_id TEXT,
    template_id TEXT,
    customer_id TEXT,
    segment TEXT,
    channel TEXT NOT NULL DEFAULT 'email',
    status TEXT NOT NULL,
    subject TEXT,
    sent_at TIMESTAMP,
    opened_at TIMESTAMP,
    clicked_at TIMESTAMP,
    booking_id TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delivery_history_salon ON delivery_history(salon_id, created_at);
CREATE INDEX IF NOT EXISTS idx_delivery_history_variant ON delivery_history(variant_id, created_at);
`

const migrationTestResults = `
CREATE TABLE IF NOT EXISTS test_results (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL UNIQUE REFERENCES test_campaigns(id) ON DELETE CASCADE,
    winner_variant_id TEXT REFERENCES variants(id),
    statistical_significance BOOLEAN NOT NULL DEFAULT 0,
    p_value REAL,
    performance_improvement REAL,
    action_taken TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationRecommendations = `
CREATE TABLE IF NOT EXISTS optimization_recommendations (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    campaign_id TEXT,
    recommendation_type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    data TEXT,
    confidence_score REAL NOT NULL,
    expected_improvement REAL NOT NULL,
    impact_score REAL NOT NULL,
    priority INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_recommendations_salon ON optimization_recommendations(salon_id, status);
`

const migrationAutomationConfigurations = `
CREATE TABLE IF NOT EXISTS automation_configurations (
    salon_id TEXT PRIMARY KEY,
    enable_variant_generation BOOLEAN NOT NULL DEFAULT 0,
    enable_performance_monitoring BOOLEAN NOT NULL DEFAULT 0,
    enable_auto_winner_selection BOOLEAN NOT NULL DEFAULT 0,
    enable_campaign_optimization BOOLEAN NOT NULL DEFAULT 0,
    auto_winner_confidence_level REAL NOT NULL DEFAULT 95,
    minimum_sample_size INTEGER NOT NULL DEFAULT 100,
    minimum_test_duration_hours INTEGER NOT NULL DEFAULT 24,
    monitoring_interval_minutes INTEGER NOT NULL DEFAULT 15,
    max_variants_per_test INTEGER NOT NULL DEFAULT 4,
    performance_alert_threshold REAL NOT NULL DEFAULT 5,
    alert_cooldown_minutes INTEGER NOT NULL DEFAULT 60,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationNotificationChannels = `
CREATE TABLE IF NOT EXISTS notification_channels (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    type TEXT NOT NULL,
    destination TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notification_channels_salon ON notification_channels(salon_id);
`

const migrationVariantRules = `
CREATE TABLE IF NOT EXISTS variant_rules (
    id TEXT PRIMARY KEY,
    salon_id TEXT NOT NULL,
    name TEXT NOT NULL,
    test_type TEXT NOT NULL,
    transformation TEXT NOT NULL,
    params TEXT,
    priority INTEGER NOT NULL DEFAULT 5,
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_variant_rules_salon ON variant_rules(salon_id, test_type);
`
