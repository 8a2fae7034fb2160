package settings

type UpdateRequest struct {
	MaxPayloadBytes        int64   `json:"maxPayloadBytes" validate:"required,min=1024"`
	RateLimitWindowSeconds int     `json:"rateLimitWindowSeconds" validate:"min=0,max=86400"`
	RateLimitMax           int     `json:"rateLimitMax" validate:"min=0"`
	ChunkTTLSeconds        int     `json:"chunkTtlSeconds" validate:"required,min=10,max=86400"`
	DefaultEffortHours     float64 `json:"defaultEffortHours" validate:"min=0,max=1000"`
}
