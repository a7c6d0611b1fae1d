package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DanielFluxman/Alexandria2/models"
	"github.com/DanielFluxman/Alexandria2/storage"
)

// ArchiveConfig steuert den Audit-Archiv-Export. Der Job läuft
// unabhängig vom API-Prozess, z.B. als tägliches Kubernetes-CronJob.
type ArchiveConfig struct {
	PostgresHost     string `envconfig:"POSTGRES_HOST" required:"true"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" required:"true"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	PostgresDB       string `envconfig:"POSTGRES_DB" required:"true"`

	ArchiveBucket    string `envconfig:"ARCHIVE_S3_BUCKET" required:"true"`
	ArchiveEndpoint  string `envconfig:"ARCHIVE_S3_URL" required:"true"`
	ArchiveAccessKey string `envconfig:"ARCHIVE_S3_KEY" required:"true"`
	ArchiveSecretKey string `envconfig:"ARCHIVE_S3_SECRET" required:"true"`
	ArchiveRegion    string `envconfig:"ARCHIVE_S3_REGION" required:"true"`

	// Tage, die ein Export zurückreicht
	WindowDays   int `envconfig:"ARCHIVE_WINDOW_DAYS" default:"1"`
	KeepArchives int `envconfig:"KEEP_ARCHIVES" default:"30"`
}

func main() {
	log.Println("Starte Audit-Archiv-Export...")

	var cfg ArchiveConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.PostgresHost, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresPort)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Fehler beim Verbinden zur Datenbank: %v", err)
	}

	data, count, err := exportEvents(db, cfg)
	if err != nil {
		log.Fatalf("Fehler beim Export der Audit-Events: %v", err)
	}
	if count == 0 {
		log.Println("Keine neuen Audit-Events im Fenster, Export übersprungen.")
		return
	}

	s3Client, err := createS3Client(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	fileName := storage.ArchiveKey(time.Now())
	if err := uploadToS3(s3Client, cfg, fileName, data); err != nil {
		log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
	}
	log.Printf("%d Audit-Events nach s3://%s/%s exportiert", count, cfg.ArchiveBucket, fileName)

	if err := rotateArchives(s3Client, cfg); err != nil {
		log.Fatalf("Fehler bei der Rotation alter Archive: %v", err)
	}

	log.Println("Audit-Archiv-Export erfolgreich abgeschlossen.")
}

// exportEvents schreibt die Events des Fensters als gzip-komprimierte
// JSON-Lines.
func exportEvents(db *gorm.DB, cfg ArchiveConfig) ([]byte, int, error) {
	since := time.Now().UTC().AddDate(0, 0, -cfg.WindowDays)

	var events []models.AuditEvent
	err := db.Where("created_at >= ?", since).
		Order("created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}

	data, err := storage.EncodeArchive(events)
	if err != nil {
		return nil, 0, err
	}
	return data, len(events), nil
}

func createS3Client(cfg ArchiveConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: cfg.ArchiveEndpoint,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, "")),
		awsconfig.WithRegion(cfg.ArchiveRegion),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

func uploadToS3(client *s3.Client, cfg ArchiveConfig, key string, data []byte) error {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(cfg.ArchiveBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func rotateArchives(client *s3.Client, cfg ArchiveConfig) error {
	output, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.ArchiveBucket),
	})
	if err != nil {
		return err
	}

	if len(output.Contents) <= cfg.KeepArchives {
		log.Printf("Weniger als %d Archive vorhanden, keine Rotation nötig.", cfg.KeepArchives)
		return nil
	}

	sort.Slice(output.Contents, func(i, j int) bool {
		return output.Contents[i].LastModified.After(*output.Contents[j].LastModified)
	})

	for _, obj := range output.Contents[cfg.KeepArchives:] {
		log.Printf("Lösche altes Archiv: %s", *obj.Key)
		_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.ArchiveBucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Printf("Fehler beim Löschen von %s: %v", *obj.Key, err)
		}
	}

	return nil
}
