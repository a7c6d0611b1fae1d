package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

// AuditLog schreibt das append-only Audit-Log. Einträge entstehen in der
// Transaktion der auslösenden Transition; die Weiterleitung an den
// externen Sink passiert erst nach dem Commit und ist best-effort.
type AuditLog struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	Sink   collaborators.AuditSink
}

// NewAuditLog erstellt das Audit-Log. sink darf nil sein.
func NewAuditLog(cfg *config.Config, db *gorm.DB, logger *zap.Logger, sink collaborators.AuditSink) *AuditLog {
	return &AuditLog{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Sink:   sink,
	}
}

// Append persistiert ein Event innerhalb der übergebenen Transaktion.
func (a *AuditLog) Append(tx *gorm.DB, ev *models.AuditEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	return tx.Create(ev).Error
}

// Record baut ein Event aus den Einzelfeldern und persistiert es.
// details wird als JSON-Snapshot abgelegt.
func (a *AuditLog) Record(tx *gorm.DB, action, actorID, targetID, targetType, fromState, toState string, details interface{}) (*models.AuditEvent, error) {
	ev := &models.AuditEvent{
		EventID:    uuid.NewString(),
		Action:     action,
		ActorID:    actorID,
		TargetID:   targetID,
		TargetType: targetType,
		FromState:  fromState,
		ToState:    toState,
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			a.Logger.Warn("Audit-Details nicht serialisierbar", zap.String("action", action), zap.Error(err))
		} else {
			ev.Details = string(raw)
		}
	}
	if err := tx.Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// Forward leitet ein bereits persistiertes Event an den externen Sink
// weiter. Fehler werden nur geloggt, nie propagiert.
func (a *AuditLog) Forward(ev models.AuditEvent) {
	if a.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Sink.Forward(ctx, ev); err != nil {
		a.Logger.Warn("Audit-Sink nicht erreichbar",
			zap.String("event_id", ev.EventID),
			zap.String("action", ev.Action),
			zap.Error(err))
	}
}

// ForTarget liefert alle Events zu einem Ziel, älteste zuerst.
func (a *AuditLog) ForTarget(targetID string) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := a.DB.Where("target_id = ?", targetID).
		Order("created_at asc, id asc").
		Find(&events).Error
	return events, err
}

// ByActor liefert alle Events eines Akteurs, neueste zuerst.
func (a *AuditLog) ByActor(actorID string, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := a.DB.Where("actor_id = ?", actorID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// Recent liefert die jüngsten Events, optional auf eine Aktion gefiltert.
func (a *AuditLog) Recent(action string, limit int) ([]models.AuditEvent, error) {
	q := a.DB.Order("created_at desc, id desc").Limit(limit)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var events []models.AuditEvent
	err := q.Find(&events).Error
	return events, err
}
