package routing

import (
	"fmt"

	"github.com/jroosing/gobolt/internal/errorkind"
)

var (
	errRoutingTableMissing = fmt.Errorf("%w: ROUTE response carried no \"rt\" routing table", errorkind.ErrProtocol)
	errInvalidTTL          = fmt.Errorf("%w: routing table \"ttl\" missing or negative", errorkind.ErrProtocol)
)
