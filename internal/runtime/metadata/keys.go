package metadata

// Reserved metadata keys stamped on inbound frames and dispatch contexts.
const (
	KeyCorrelationID = "correlation_id"
	KeyBotID         = "bot_id"
	KeySessionID     = "session_id"
	KeyTransport     = "transport"
	KeyAdapter       = "adapter"
	KeyRemoteAddr    = "remote_addr"
	KeyReceivedAt    = "botflow_received_at"
	KeySequence      = "botflow_sequence"
	KeyQueueDepth    = "botflow_queue_depth"
)
