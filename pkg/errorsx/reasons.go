package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonFillerGenerate ReasonCode = "filler_generate"
	ReasonFillerTimeout  ReasonCode = "filler_timeout"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonSideChannelDecode ReasonCode = "side_channel_decode"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"

	ReasonTransportSend ReasonCode = "transport_send"
	ReasonDial          ReasonCode = "dial"
)
