package service

import (
	"strings"

	"github.com/google/uuid"
)

type TrackingGenerator interface {
	Generate(orderID string) string
}

type uuidTracking struct {
	prefix string
}

// NewTrackingGenerator issues "<prefix>-<UUID>" numbers. Only the number
// persisted by the winning shipping transition is ever published.
func NewTrackingGenerator(prefix string) TrackingGenerator {
	return &uuidTracking{prefix: prefix}
}

func (g *uuidTracking) Generate(_ string) string {
	return g.prefix + "-" + strings.ToUpper(uuid.NewString())
}
