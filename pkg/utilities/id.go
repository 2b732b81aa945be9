package utilities

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// IDGenerator hands out snowflake ids for persisted records.
// Safe for concurrent use; the underlying node serializes generation.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for the given snowflake node (0-1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// Next returns a new unique, time-ordered id.
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}

// NewRequestID generates a new globally unique KSUID string.
func NewRequestID() string {
	return ksuid.New().String()
}

// NewTokenID returns a random UUID used as a token's jti claim.
func NewTokenID() string {
	return uuid.NewString()
}
