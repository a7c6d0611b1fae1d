package services

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

const pairLockStripes = 64

// CitationGraph verwaltet die Zitationskanten zwischen publizierten
// Scrolls und pflegt inkrementell die Zähler je Agentenpaar. Kanten
// werden nie gelöscht, auch nicht bei Retraction.
type CitationGraph struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger

	pairLocks [pairLockStripes]sync.Mutex
}

// NewCitationGraph erstellt den Zitationsgraphen.
func NewCitationGraph(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *CitationGraph {
	return &CitationGraph{
		Config: cfg,
		DB:     db,
		Logger: logger,
	}
}

// PairDelta ist der aktualisierte Zählerstand eines Agentenpaars nach
// dem Einfügen einer Kante. AgentA < AgentB lexikographisch.
type PairDelta struct {
	AgentA     string
	AgentB     string
	AToB       int
	BToA       int
	Reciprocal int
}

func orderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func (g *CitationGraph) lockFor(agentA, agentB string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(agentA))
	h.Write([]byte{0})
	h.Write([]byte(agentB))
	return &g.pairLocks[h.Sum32()%pairLockStripes]
}

// AddEdge fügt eine Kante citing -> cited ein. Beide IDs sind PublicIDs
// publizierter Scrolls. Wiederholtes Einfügen derselben Kante ist ein
// No-op und liefert keine Deltas. Kanten, die einen Zyklus der Länge
// <= RingCycleBound schließen würden, werden abgelehnt.
func (g *CitationGraph) AddEdge(citingID, citedID string) ([]PairDelta, error) {
	if citingID == citedID {
		return nil, fmt.Errorf("%w: %s", ErrSelfCitation, citingID)
	}

	citing, err := g.publishedScroll(citingID)
	if err != nil {
		return nil, err
	}
	cited, err := g.publishedScroll(citedID)
	if err != nil {
		return nil, err
	}

	closes, err := g.pathExists(citedID, citingID, g.Config.Policy.RingCycleBound-1)
	if err != nil {
		return nil, err
	}
	if closes {
		return nil, fmt.Errorf("%w: %s -> %s", ErrCitationCycle, citingID, citedID)
	}

	// Kante und Paarzähler bewegen sich nur gemeinsam.
	var deltas []PairDelta
	err = g.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.CitationEdge{CitingID: citingID, CitedID: citedID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deltas, err = g.bumpPairs(tx, citing.AuthorList(), cited.AuthorList())
		return err
	})
	if err != nil {
		return nil, err
	}
	return deltas, nil
}

// bumpPairs erhöht für jedes Autorenpaar (citing-Autor, cited-Autor)
// den Richtungszähler und liefert die neuen Stände.
func (g *CitationGraph) bumpPairs(tx *gorm.DB, citingAuthors, citedAuthors []string) ([]PairDelta, error) {
	var deltas []PairDelta
	for _, from := range citingAuthors {
		for _, to := range citedAuthors {
			if from == to {
				continue
			}
			agentA, agentB := orderPair(from, to)

			mu := g.lockFor(agentA, agentB)
			mu.Lock()
			var stat models.AgentPairStat
			err := tx.Where("agent_a = ? AND agent_b = ?", agentA, agentB).
				FirstOrCreate(&stat, models.AgentPairStat{AgentA: agentA, AgentB: agentB}).Error
			if err != nil {
				mu.Unlock()
				return deltas, err
			}
			if from == agentA {
				stat.AToB++
			} else {
				stat.BToA++
			}
			if err := tx.Save(&stat).Error; err != nil {
				mu.Unlock()
				return deltas, err
			}
			mu.Unlock()

			deltas = append(deltas, PairDelta{
				AgentA:     agentA,
				AgentB:     agentB,
				AToB:       stat.AToB,
				BToA:       stat.BToA,
				Reciprocal: stat.Reciprocal(),
			})
		}
	}
	return deltas, nil
}

func (g *CitationGraph) publishedScroll(publicID string) (*models.Scroll, error) {
	var scroll models.Scroll
	err := g.DB.Where("public_id = ?", publicID).First(&scroll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, publicID)
	}
	if err != nil {
		return nil, err
	}
	if scroll.State != models.StatePublished && scroll.State != models.StateRetracted {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, publicID)
	}
	return &scroll, nil
}

// pathExists prüft per Breitensuche, ob ein Pfad from -> to mit
// höchstens maxHops Kanten existiert.
func (g *CitationGraph) pathExists(from, to string, maxHops int) (bool, error) {
	if maxHops < 1 {
		return false, nil
	}
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		err := g.DB.Model(&models.CitationEdge{}).
			Where("citing_id IN ?", frontier).
			Pluck("cited_id", &next).Error
		if err != nil {
			return false, err
		}
		frontier = frontier[:0]
		for _, id := range next {
			if id == to {
				return true, nil
			}
			if !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
	}
	return false, nil
}

// References liefert die direkt zitierten Scrolls.
func (g *CitationGraph) References(publicID string) ([]string, error) {
	var out []string
	err := g.DB.Model(&models.CitationEdge{}).
		Where("citing_id = ?", publicID).
		Order("cited_id asc").
		Pluck("cited_id", &out).Error
	return out, err
}

// CitedBy liefert die direkt zitierenden Scrolls.
func (g *CitationGraph) CitedBy(publicID string) ([]string, error) {
	var out []string
	err := g.DB.Model(&models.CitationEdge{}).
		Where("cited_id = ?", publicID).
		Order("citing_id asc").
		Pluck("citing_id", &out).Error
	return out, err
}

// PairStat liefert den Zählerstand eines Agentenpaars.
func (g *CitationGraph) PairStat(agentA, agentB string) (*models.AgentPairStat, error) {
	a, b := orderPair(agentA, agentB)
	var stat models.AgentPairStat
	err := g.DB.Where("agent_a = ? AND agent_b = ?", a, b).First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.AgentPairStat{AgentA: a, AgentB: b}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

// LineageWalker traversiert die Vorfahren eines Scrolls ebenenweise.
// Jeder Next-Aufruf liefert höchstens limit IDs; der Walker kann
// zwischen Aufrufen beliebig lange liegen bleiben.
type LineageWalker struct {
	graph    *CitationGraph
	seen     map[string]bool
	pending  []string
	frontier []string
	depth    int
	maxDepth int
}

// Lineage startet eine Vorfahren-Traversierung ab publicID. Die Tiefe
// ist durch LineageMaxDepth begrenzt.
func (g *CitationGraph) Lineage(publicID string) *LineageWalker {
	return &LineageWalker{
		graph:    g,
		seen:     map[string]bool{publicID: true},
		frontier: []string{publicID},
		maxDepth: g.Config.Policy.LineageMaxDepth,
	}
}

// Next liefert bis zu limit weitere Vorfahren-IDs. done=true bedeutet,
// dass keine weiteren Vorfahren innerhalb der Tiefenschranke existieren.
func (w *LineageWalker) Next(limit int) (ids []string, done bool, err error) {
	if limit <= 0 {
		limit = 1
	}
	for len(ids) < limit {
		if len(w.pending) == 0 {
			if w.depth >= w.maxDepth || len(w.frontier) == 0 {
				return ids, true, nil
			}
			var next []string
			err := w.graph.DB.Model(&models.CitationEdge{}).
				Where("citing_id IN ?", w.frontier).
				Order("cited_id asc").
				Pluck("cited_id", &next).Error
			if err != nil {
				return ids, false, err
			}
			w.frontier = w.frontier[:0]
			for _, id := range next {
				if !w.seen[id] {
					w.seen[id] = true
					w.pending = append(w.pending, id)
					w.frontier = append(w.frontier, id)
				}
			}
			w.depth++
			if len(w.pending) == 0 {
				continue
			}
		}
		n := limit - len(ids)
		if n > len(w.pending) {
			n = len(w.pending)
		}
		ids = append(ids, w.pending[:n]...)
		w.pending = w.pending[n:]
	}
	done = len(w.pending) == 0 && (w.depth >= w.maxDepth || len(w.frontier) == 0)
	return ids, done, nil
}

// Impact zählt die transitiven Zitierer eines Scrolls bis zur
// Tiefenschranke LineageMaxDepth.
func (g *CitationGraph) Impact(publicID string) (int, error) {
	seen := map[string]bool{publicID: true}
	frontier := []string{publicID}
	count := 0
	for depth := 0; depth < g.Config.Policy.LineageMaxDepth && len(frontier) > 0; depth++ {
		var next []string
		err := g.DB.Model(&models.CitationEdge{}).
			Where("cited_id IN ?", frontier).
			Pluck("citing_id", &next).Error
		if err != nil {
			return 0, err
		}
		frontier = frontier[:0]
		for _, id := range next {
			if !seen[id] {
				seen[id] = true
				count++
				frontier = append(frontier, id)
			}
		}
	}
	return count, nil
}
