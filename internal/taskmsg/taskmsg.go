package taskmsg

// Message is the wire envelope published to the tasks topic. The worker
// decodes it and hands the task key to the execution engine.
type Message struct {
	TaskKey      string            `json:"task_key"`
	TenantID     string            `json:"tenant_id"`
	UserID       string            `json:"user_id"`
	Payload      map[string]any    `json:"payload,omitempty"`
	PublishedAt  string            `json:"published_at"`            // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}
