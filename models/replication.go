package models

import (
	"time"
)

// Replication ist das vom Reproducibility-Kollaborateur gemeldete
// Ergebnis eines Replikationslaufs. Der Kern führt selbst keine
// Replikationen aus, er protokolliert nur gemeldete Resultate.
type Replication struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ScrollID     string `json:"scroll_id" gorm:"index;not null"`
	ReproducerID string `json:"reproducer_id" gorm:"index;not null"`
	Success      bool   `json:"success"`
}

// IDSequence vergibt die fortlaufenden Nummern der permanenten
// Scroll-IDs (AX-YYYY-NNNNN) pro Jahr.
type IDSequence struct {
	ID   uint `json:"id" gorm:"primaryKey"`
	Year int  `json:"year" gorm:"uniqueIndex;not null"`
	Seq  int  `json:"seq"`
}
