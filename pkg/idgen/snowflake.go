package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// Record numbers
// ============================================================================
//
// Every row the ledger writes carries a prefixed snowflake number:
//
//   EVT<id>  billable event
//   TXN<id>  ledger transaction
//   ADJ<id>  manual balance adjustment
//
// Snowflake ids are time ordered, so the numbers sort by creation time and
// index well. The node id must be unique per running instance.
//
// ============================================================================

const (
	PrefixEvent       = "EVT"
	PrefixTransaction = "TXN"
	PrefixAdjustment  = "ADJ"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the node id of the default generator. Safe to call more than once;
// the first successful call wins.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	if node != nil {
		return nil
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	node = n
	return nil
}

func defaultNode() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()

	if node == nil {
		// node 1 is always within range
		node, _ = snowflake.NewNode(1)
	}
	return node
}

func generate(prefix string) string {
	return prefix + defaultNode().Generate().String()
}

// GenerateEventNo returns a billable event id.
func GenerateEventNo() string {
	return generate(PrefixEvent)
}

// GenerateTransactionNo returns a ledger transaction id.
func GenerateTransactionNo() string {
	return generate(PrefixTransaction)
}

// GenerateAdjustmentNo returns the source id of a manual adjustment.
func GenerateAdjustmentNo() string {
	return generate(PrefixAdjustment)
}
