package schema

import "time"

// DeliveryAttempt is one simulated notification of one subscription about one event.
type DeliveryAttempt struct {
	ID            string      `json:"id" bson:"_id"`
	WebhookID     string      `json:"webhookId" bson:"webhook_id"`
	Environment   Environment `json:"environment" bson:"environment"`
	EventType     Type        `json:"eventType" bson:"event_type"`
	Status        Status      `json:"status" bson:"status"`
	Attempts      int         `json:"attempts" bson:"attempts"`
	LastAttemptAt time.Time   `json:"lastAttemptAt" bson:"last_attempt_at"`
	TraceID       string      `json:"traceId" bson:"trace_id"`
	LatencyMs     int         `json:"latencyMs" bson:"latency_ms"`
	ResponseCode  int         `json:"responseCode" bson:"response_code"`
}
