package services

import "errors"

// Sentinel-Fehler der Redaktions-Pipeline. Aufrufer prüfen mit errors.Is
// und entscheiden darüber den HTTP-Status.
var (
	// ErrValidation: Eingabe verletzt Feld- oder Zustandsregeln.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound: referenziertes Objekt existiert nicht.
	ErrNotFound = errors.New("not found")

	// ErrConflictOfInterest: Reviewer ist Autor oder deklarierter COI-Partner.
	ErrConflictOfInterest = errors.New("conflict of interest")

	// ErrDuplicateReview: Reviewer hat in dieser Runde bereits begutachtet.
	ErrDuplicateReview = errors.New("duplicate review for round")

	// ErrSuspended: eine aktive Sanktion blockiert die Aktion.
	ErrSuspended = errors.New("scholar is suspended")

	// ErrSelfCitation: Scroll zitiert sich selbst.
	ErrSelfCitation = errors.New("self citation")

	// ErrUnknownTarget: Zitationsziel ist nicht publiziert.
	ErrUnknownTarget = errors.New("unknown citation target")

	// ErrCitationCycle: Kante würde einen kurzen Zitationszyklus schließen.
	ErrCitationCycle = errors.New("citation cycle")

	// ErrInvariant: interner Zustand widerspricht einer Invariante.
	ErrInvariant = errors.New("invariant violated")
)
