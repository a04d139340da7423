package app

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator mints ledger identifiers.
type IDGenerator interface {
	TransactionID() string
	CoreReferenceID() string
}

// SnowflakeIDs produces time-ordered ids unique per node.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs builds a generator for the given node (0-1023).
func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (g *SnowflakeIDs) TransactionID() string {
	return "TX-" + g.node.Generate().String()
}

func (g *SnowflakeIDs) CoreReferenceID() string {
	return "CORE-" + g.node.Generate().String()
}
