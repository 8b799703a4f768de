package ingest

import (
	"homeguard/internal/model"
)

// Sink receives decoded events from every transport. The guardian
// implements it; transports never block on it longer than the guardian's
// own processing.
type Sink interface {
	HandleObservation(model.Observation)
	HandlePersonDetection(model.PersonDetection)
}
