package main

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/collaborators/contentstore"
	"github.com/DanielFluxman/Alexandria2/collaborators/reputation"
	"github.com/DanielFluxman/Alexandria2/collaborators/similarity"
	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
	"github.com/DanielFluxman/Alexandria2/services"
	"github.com/DanielFluxman/Alexandria2/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Obergrenze pro geplantem Archiv-Export; cmd/archive exportiert
// fensterbasiert und ohne Limit.
const archiveBatchLimit = 10000

var (
	decisionsCounter    *prometheus.CounterVec
	findingsCounter     *prometheus.CounterVec
	publicationsCounter prometheus.Counter
)

func init() {
	decisionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editorial_decisions_total",
			Help: "Total number of editorial decisions by outcome.",
		},
		[]string{"outcome"},
	)
	findingsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_findings_total",
			Help: "Total number of integrity findings by kind.",
		},
		[]string{"kind"},
	)
	publicationsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrolls_published_total",
			Help: "Total number of published scrolls.",
		},
	)
	prometheus.MustRegister(decisionsCounter, findingsCounter, publicationsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSuspended):
		return http.StatusForbidden
	case errors.Is(err, services.ErrConflictOfInterest),
		errors.Is(err, services.ErrDuplicateReview),
		errors.Is(err, services.ErrSelfCitation),
		errors.Is(err, services.ErrCitationCycle):
		return http.StatusConflict
	case errors.Is(err, services.ErrUnknownTarget):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logging *zap.Logger, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logging.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	registry, err := config.LoadRegistry(cfg.DomainRegistryPath)
	if err != nil {
		logging.Warn("Domain registry not loadable, using built-in default",
			zap.String("path", cfg.DomainRegistryPath), zap.Error(err))
		registry = config.DefaultRegistry()
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to editorial database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Scroll{}, &models.Review{}, &models.Decision{},
		&models.IntegrityFinding{}, &models.CitationEdge{}, &models.AgentPairStat{},
		&models.AuditEvent{}, &models.ProcessedTrigger{},
		&models.Scholar{}, &models.Sanction{},
		&models.Replication{}, &models.IDSequence{},
	)

	// Setup Collaborators
	contentClient := contentstore.NewClient(cfg, logging)
	var similaritySource *similarity.Client
	if cfg.SimilarityURL != "" {
		similaritySource = similarity.NewClient(cfg, logging)
	}
	var reputationClient *reputation.Client
	if cfg.ReputationURL != "" {
		reputationClient = reputation.NewClient(cfg, logging)
	}

	// Setup Services
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	var auditLog *services.AuditLog
	if reputationClient != nil {
		auditLog = services.NewAuditLog(cfg, db, logging, reputationClient)
	} else {
		auditLog = services.NewAuditLog(cfg, db, logging, nil)
	}
	reviews := services.NewReviewAggregator(cfg, registry, db, logging)
	graph := services.NewCitationGraph(cfg, db, logging)
	var integrity *services.IntegrityDetector
	var lifecycle *services.Lifecycle
	if reputationClient != nil {
		integrity = services.NewIntegrityDetector(cfg, db, logging, auditLog, reputationClient)
		lifecycle = services.NewLifecycle(cfg, registry, db, logging, auditLog, reviews, integrity, graph,
			contentClient, similaritySourceOrNil(similaritySource), reputationClient)
	} else {
		integrity = services.NewIntegrityDetector(cfg, db, logging, auditLog, nil)
		lifecycle = services.NewLifecycle(cfg, registry, db, logging, auditLog, reviews, integrity, graph,
			contentClient, similaritySourceOrNil(similaritySource), nil)
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupScrollRoutes(router, lifecycle, logging)
	setupReviewRoutes(router, lifecycle, logging)
	setupIntegrityRoutes(router, lifecycle, integrity, logging)
	setupGraphRoutes(router, graph, integrity, logging)
	setupScholarRoutes(router, db, logging)
	setupAuditRoutes(router, auditLog, s3Client, cfg, logging)
	setupStatsRoutes(router, lifecycle, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.SybilSweepSchedule, func() {
		logging.Info("Running scheduled sybil sweep...")
		lifecycle.SweepSybil()
	})
	cronScheduler.AddFunc(cfg.ArchiveSchedule, func() {
		logging.Info("Running scheduled audit archive export...")
		events, err := auditLog.Recent("", archiveBatchLimit)
		if err != nil {
			logging.Error("Audit export failed", zap.Error(err))
			return
		}
		data, err := storage.EncodeArchive(events)
		if err != nil {
			logging.Error("Audit export encoding failed", zap.Error(err))
			return
		}
		key := storage.ArchiveKey(time.Now())
		if _, err := storage.UploadArchive(s3Client, cfg.ArchiveS3Bucket, key, data, cfg); err != nil {
			logging.Error("Audit archive upload failed", zap.Error(err))
			return
		}
		logging.Info("Audit archive uploaded", zap.String("key", key), zap.Int("events", len(events)))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// similaritySourceOrNil vermeidet ein non-nil Interface um einen
// nil-Zeiger herum.
func similaritySourceOrNil(c *similarity.Client) collaborators.SimilaritySource {
	if c == nil {
		return nil
	}
	return c
}

func setupScrollRoutes(router *gin.Engine, lifecycle *services.Lifecycle, logging *zap.Logger) {
	rg := router.Group("/scrolls")

	// Neue Einreichung; Screening läuft synchron durch
	rg.POST("/", func(c *gin.Context) {
		var sub services.Submission
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		actor := c.GetHeader("X-Actor-ID")
		scroll, issues, err := lifecycle.Submit(c.Request.Context(), actor, sub)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		if len(issues) > 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"scroll": scroll, "screening_issues": issues})
			return
		}
		c.JSON(http.StatusCreated, scroll)
	})

	rg.GET("/", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		scrolls, err := lifecycle.ListScrolls(c.Query("state"), limit)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, scrolls)
	})

	rg.GET("/:id", func(c *gin.Context) {
		scroll, err := lifecycle.GetScroll(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, scroll)
	})

	rg.GET("/:id/decisions", func(c *gin.Context) {
		decisions, err := lifecycle.Decisions(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, decisions)
	})

	rg.POST("/:id/resubmit", func(c *gin.Context) {
		var re services.Resubmission
		if err := c.ShouldBindJSON(&re); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		re.ScrollID = c.Param("id")
		actor := c.GetHeader("X-Actor-ID")
		scroll, issues, err := lifecycle.Resubmit(c.Request.Context(), actor, re)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		if len(issues) > 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"scroll": scroll, "screening_issues": issues})
			return
		}
		c.JSON(http.StatusOK, scroll)
	})

	rg.POST("/:id/replications", func(c *gin.Context) {
		type replicationRequest struct {
			TriggerID    string `json:"trigger_id"`
			ReproducerID string `json:"reproducer_id" binding:"required"`
			Success      bool   `json:"success"`
		}
		var req replicationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		scroll, err := lifecycle.ReportReplication(req.TriggerID, c.Param("id"), req.ReproducerID, req.Success)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		if scroll.State == models.StatePublished {
			publicationsCounter.Inc()
		}
		c.JSON(http.StatusOK, scroll)
	})

	rg.POST("/:id/retract", func(c *gin.Context) {
		type retractRequest struct {
			TriggerID string `json:"trigger_id"`
			Reason    string `json:"reason" binding:"required"`
		}
		var req retractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		actor := c.GetHeader("X-Actor-ID")
		scroll, err := lifecycle.Retract(req.TriggerID, c.Param("id"), actor, req.Reason)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, scroll)
	})
}

func setupReviewRoutes(router *gin.Engine, lifecycle *services.Lifecycle, logging *zap.Logger) {
	rg := router.Group("/reviews")

	rg.POST("/", func(c *gin.Context) {
		type reviewRequest struct {
			TriggerID string `json:"trigger_id"`
			services.ReviewInput
		}
		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		review, decision, err := lifecycle.SubmitReview(c.Request.Context(), req.TriggerID, req.ReviewInput)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		if review == nil {
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		if decision != nil {
			decisionsCounter.WithLabelValues(decision.Outcome).Inc()
			// Empirische Scrolls landen bei accept erst im Repro-Gate;
			// gezählt wird nur die tatsächliche Publikation.
			if decision.Outcome == models.OutcomeAccept {
				if scroll, err := lifecycle.GetScroll(decision.ScrollID); err == nil && scroll.State == models.StatePublished {
					publicationsCounter.Inc()
				}
			}
			c.JSON(http.StatusCreated, gin.H{"review": review, "decision": decision})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"review": review})
	})
}

func setupIntegrityRoutes(router *gin.Engine, lifecycle *services.Lifecycle, integrity *services.IntegrityDetector, logging *zap.Logger) {
	rg := router.Group("/integrity")

	rg.GET("/findings", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		onlyUnresolved := c.DefaultQuery("unresolved", "false") == "true"
		findings, err := integrity.List(c.Query("kind"), onlyUnresolved, limit)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, findings)
	})

	rg.GET("/findings/:id", func(c *gin.Context) {
		finding, err := integrity.Get(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, finding)
	})

	rg.POST("/findings/:id/resolve", func(c *gin.Context) {
		actor := c.GetHeader("X-Actor-ID")
		finding, err := integrity.Resolve(c.Param("id"), actor)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, finding)
	})

	// Editor meldet einen Interessenkonflikt
	rg.POST("/conflicts", func(c *gin.Context) {
		type conflictRequest struct {
			ScrollID string   `json:"scroll_id"`
			Agents   []string `json:"agents" binding:"required"`
			Reason   string   `json:"reason"`
		}
		var req conflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		finding, err := integrity.FlagConflict(req.ScrollID, req.Agents, req.Reason)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		findingsCounter.WithLabelValues(finding.Kind).Inc()
		c.JSON(http.StatusCreated, finding)
	})

	rg.POST("/sanctions", func(c *gin.Context) {
		type sanctionRequest struct {
			TriggerID string `json:"trigger_id"`
			ScholarID string `json:"scholar_id" binding:"required"`
			Kind      string `json:"kind" binding:"required"`
			Reason    string `json:"reason"`
			FindingID string `json:"finding_id"`
			ScrollID  string `json:"scroll_id"`
			TTLHours  int    `json:"ttl_hours"`
		}
		var req sanctionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		actor := c.GetHeader("X-Actor-ID")
		var ttl *time.Duration
		if req.TTLHours > 0 {
			d := time.Duration(req.TTLHours) * time.Hour
			ttl = &d
		}
		sanction, err := lifecycle.ApplySanction(req.TriggerID, req.ScholarID, req.Kind,
			req.Reason, req.FindingID, req.ScrollID, actor, ttl)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusCreated, sanction)
	})
}

func setupGraphRoutes(router *gin.Engine, graph *services.CitationGraph, integrity *services.IntegrityDetector, logging *zap.Logger) {
	rg := router.Group("/graph")

	// Direkte Kante, z.B. für nachgemeldete Zitate bereits publizierter Scrolls
	rg.POST("/edges", func(c *gin.Context) {
		type edgeRequest struct {
			CitingID string `json:"citing_id" binding:"required"`
			CitedID  string `json:"cited_id" binding:"required"`
		}
		var req edgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		deltas, err := graph.AddEdge(req.CitingID, req.CitedID)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		findings, err := integrity.ObservePairDeltas(deltas)
		if err != nil {
			logging.Error("Pair observation failed", zap.Error(err))
		}
		for _, f := range findings {
			findingsCounter.WithLabelValues(f.Kind).Inc()
		}
		c.JSON(http.StatusCreated, gin.H{"inserted": len(deltas) > 0, "findings": len(findings)})
	})

	rg.GET("/:id/references", func(c *gin.Context) {
		refs, err := graph.References(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"references": refs})
	})

	rg.GET("/:id/cited-by", func(c *gin.Context) {
		citers, err := graph.CitedBy(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cited_by": citers})
	})

	rg.GET("/:id/lineage", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		walker := graph.Lineage(c.Param("id"))
		ancestors, done, err := walker.Next(limit)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ancestors": ancestors, "complete": done})
	})

	rg.GET("/:id/impact", func(c *gin.Context) {
		count, err := graph.Impact(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"impact": count})
	})

	rg.GET("/pairs/:a/:b", func(c *gin.Context) {
		stat, err := graph.PairStat(c.Param("a"), c.Param("b"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, stat)
	})
}

func setupScholarRoutes(router *gin.Engine, db *gorm.DB, logging *zap.Logger) {
	rg := router.Group("/scholars")

	// Profil anlegen oder aktualisieren (Upsert über scholar_id)
	rg.PUT("/:id", func(c *gin.Context) {
		type scholarRequest struct {
			Name          string   `json:"name"`
			Affiliation   string   `json:"affiliation"`
			ConflictPeers []string `json:"conflict_peers"`
		}
		var req scholarRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		scholar := models.Scholar{
			ScholarID:   c.Param("id"),
			Name:        req.Name,
			Affiliation: req.Affiliation,
		}
		scholar.SetPeers(req.ConflictPeers)
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scholar_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "affiliation", "conflict_peers", "updated_at"}),
		}).Create(&scholar).Error
		if err != nil {
			logging.Error("Scholar upsert failed", zap.String("scholar_id", scholar.ScholarID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, scholar)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var scholar models.Scholar
		err := db.Where("scholar_id = ?", c.Param("id")).First(&scholar).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scholar not found"})
			return
		}
		if err != nil {
			logging.Error("Scholar lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, scholar)
	})

	rg.GET("/:id/sanctions", func(c *gin.Context) {
		var sanctions []models.Sanction
		err := db.Where("scholar_id = ?", c.Param("id")).
			Order("created_at desc").
			Find(&sanctions).Error
		if err != nil {
			logging.Error("Sanction lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, sanctions)
	})
}

func setupAuditRoutes(router *gin.Engine, auditLog *services.AuditLog, s3Client *s3.Client, cfg *config.Config, logging *zap.Logger) {
	rg := router.Group("/audit")

	rg.GET("/target/:id", func(c *gin.Context) {
		events, err := auditLog.ForTarget(c.Param("id"))
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, events)
	})

	rg.GET("/actor/:id", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		events, err := auditLog.ByActor(c.Param("id"), limit)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, events)
	})

	rg.GET("/recent", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		events, err := auditLog.Recent(c.Query("action"), limit)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, events)
	})

	// Manueller Export des jüngsten Audit-Fensters ins S3-Archiv
	rg.POST("/archive", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
		events, err := auditLog.Recent("", limit)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		data, err := storage.EncodeArchive(events)
		if err != nil {
			respondError(c, logging, err)
			return
		}
		key := storage.ArchiveKey(time.Now())
		link, err := storage.UploadArchive(s3Client, cfg.ArchiveS3Bucket, key, data, cfg)
		if err != nil {
			logging.Error("Audit archive upload failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "archive upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"link": link, "events": len(events)})
	})
}

func setupStatsRoutes(router *gin.Engine, lifecycle *services.Lifecycle, logging *zap.Logger) {
	router.GET("/stats", func(c *gin.Context) {
		stats, err := lifecycle.Stats()
		if err != nil {
			respondError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}
