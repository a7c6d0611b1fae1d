package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Pfad zur Domain-Registry (anerkannte Fachgebiete, Quorum-Overrides)
	DomainRegistryPath string `envconfig:"DOMAIN_REGISTRY_PATH" default:"domains.yaml"`

	// Cron: regelmäßiger Sybil-Sweep über aktive Autoren
	SybilSweepSchedule string `envconfig:"SYBIL_SWEEP_SCHEDULE" default:"*/15 * * * *"`
	// Cron: nächtlicher Export des Audit-Logs ins S3-Archiv
	ArchiveSchedule string `envconfig:"ARCHIVE_SCHEDULE" default:"0 3 * * *"`

	// Endpunkte der Kollaborateur-Dienste
	ContentStoreURL string `envconfig:"CONTENT_STORE_URL" required:"true"`
	SimilarityURL   string `envconfig:"SIMILARITY_URL"`
	ReputationURL   string `envconfig:"REPUTATION_URL"`

	// S3-Ziel für das Audit-Archiv
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY" required:"true"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET" required:"true"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL" required:"true"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" required:"true"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET" required:"true"`

	Policy PolicyConfig
}

// PolicyConfig sind die Stellschrauben der Redaktions-Pipeline.
// Der Decision-Engine wird immer ein Snapshot dieses Werts übergeben,
// niemals ein Zeiger auf globalen Zustand.
type PolicyConfig struct {
	MinReviewsNormal     int     `envconfig:"POLICY_MIN_REVIEWS_NORMAL" default:"2"`
	MinReviewsHighImpact int     `envconfig:"POLICY_MIN_REVIEWS_HIGH_IMPACT" default:"3"`
	AcceptScoreThreshold float64 `envconfig:"POLICY_ACCEPT_SCORE_THRESHOLD" default:"6.0"`

	// Score-Bänder unterhalb des Accept-Thresholds
	MinorRevisionBand float64 `envconfig:"POLICY_MINOR_REVISION_BAND" default:"1.0"`
	MajorRevisionBand float64 `envconfig:"POLICY_MAJOR_REVISION_BAND" default:"2.5"`

	MaxRevisionRounds int `envconfig:"POLICY_MAX_REVISION_ROUNDS" default:"3"`

	MinAbstractLength int `envconfig:"POLICY_MIN_ABSTRACT_LENGTH" default:"50"`
	MinContentLength  int `envconfig:"POLICY_MIN_CONTENT_LENGTH" default:"200"`

	PlagiarismThreshold float64 `envconfig:"POLICY_PLAGIARISM_THRESHOLD" default:"0.92"`

	CitationRingThreshold int `envconfig:"POLICY_CITATION_RING_THRESHOLD" default:"5"`
	RingCycleBound        int `envconfig:"POLICY_RING_CYCLE_BOUND" default:"4"`

	SybilWindowHours    int `envconfig:"POLICY_SYBIL_WINDOW_HOURS" default:"1"`
	SybilMaxSubmissions int `envconfig:"POLICY_SYBIL_MAX_SUBMISSIONS" default:"10"`

	LineageMaxDepth int `envconfig:"POLICY_LINEAGE_MAX_DEPTH" default:"10"`

	// Reject-Empfehlung mit Confidence >= Bar zählt als kritischer Flag
	HighConfidenceRejectBar float64 `envconfig:"POLICY_HIGH_CONFIDENCE_REJECT_BAR" default:"0.8"`

	// Ab dieser Severity werden Sanktionen ohne Editor-Review angewandt
	SanctionAutoApplySeverity int `envconfig:"POLICY_SANCTION_AUTO_APPLY_SEVERITY" default:"3"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
