package sqlstore

import (
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/webhooks"
)

var (
	_ core.Storage            = (*KVStore)(nil)
	_ webhooks.DeadLetterSink = (*DeadLetterStore)(nil)
)
