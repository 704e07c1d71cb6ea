package processor

const (
	// Enumeration type to specify Type in messages in order to efficiently unmarshal variable params messages
	PipelineRunOnce MessageType = iota
	PipelineSweep
)

// MessageType defines types of messages
type MessageType uint

// MessageEnvelope defines shared fields for message with message type as action key, any metadata (e.g. opentracing) and Msg as actual message body content
type MessageEnvelope struct {
	Type     MessageType       `json:"type,int"`
	Metadata map[string]string `json:"metadata,string"`
	Msg      interface{}
}

// PipelineRunOnceMsg triggers one dispatch run.
type PipelineRunOnceMsg struct {
}

// PipelineSweepMsg triggers a retention sweep.
type PipelineSweepMsg struct {
}

// NewPipelineRunOnceMessage returns message envelope with action to run the pipeline once
func NewPipelineRunOnceMessage() *MessageEnvelope {
	return &MessageEnvelope{
		Type: PipelineRunOnce,
		Msg:  PipelineRunOnceMsg{},
	}
}

// NewPipelineSweepMessage returns message envelope with action to run the retention sweep
func NewPipelineSweepMessage() *MessageEnvelope {
	return &MessageEnvelope{
		Type: PipelineSweep,
		Msg:  PipelineSweepMsg{},
	}
}
