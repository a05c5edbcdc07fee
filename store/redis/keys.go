package redis

// Key prefixes for primary entity storage.
const (
	prefixEventType    = "wh:evtype:"
	prefixSubscription = "wh:sub:"
	prefixEvent        = "wh:evt:"
	prefixDelivery     = "wh:del:"
	prefixDLQ          = "wh:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventTypeName = "wh:u:evtype:name:"
	uniqueEventIdem     = "wh:u:evt:idem:" // + tenantID + ":" + key
	uniqueDLQDelivery   = "wh:u:dlq:del:"  // + delivery ID
)

// Key prefixes for sorted set indexes.
const (
	zEventTypeAll    = "wh:z:evtype:all"
	zSubTenant       = "wh:z:sub:tenant:" // + tenant ID
	zEventAll        = "wh:z:evt:all"
	zEventTenant     = "wh:z:evt:tenant:" // + tenant ID
	zDeliverySub     = "wh:z:del:sub:"    // + subscription ID
	zDeliveryEvt     = "wh:z:del:evt:"    // + event ID
	zDeliveryTenant  = "wh:z:del:tenant:" // + tenant ID
	zDeliveryDue     = "wh:z:del:due"
	zDeliveryClaimed = "wh:z:del:claimed" // scored by claim expiry
	zDLQAll          = "wh:z:dlq:all"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// idemKey returns the unique index key for a tenant's idempotency key.
func idemKey(tenantID, key string) string {
	return uniqueEventIdem + tenantID + ":" + key
}
