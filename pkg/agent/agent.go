package agent

import "context"

/*
Agent is the opaque capability the protocol layer drives.  Its internal
reasoning is out of scope: the core only needs something that turns input
into output, optionally as a lazy sequence of chunks.

Stream implementations must honour ctx cancellation: stop producing and
close the returned channel once ctx is done.  The channel is always closed
by the producer, never by the consumer.
*/
type Agent interface {
	Invoke(ctx context.Context, input string) (*Output, error)
	Stream(ctx context.Context, input string) (<-chan Chunk, error)
}

/*
Output is the result of a unary invocation.
*/
type Output struct {
	Text     string
	Data     map[string]any
	Metadata Metadata
}

/*
Metadata carries out-of-band signals on agent output.  NeedsInput is an
explicit flag, not a thrown control-flow signal: the handler inspects it
to decide whether the task should park in input-required.
*/
type Metadata struct {
	NeedsInput bool
}

// ChunkType discriminates the kinds of chunks a streaming agent produces.
type ChunkType string

const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeToolStart ChunkType = "tool_start"
	ChunkTypeToolEnd   ChunkType = "tool_end"
	ChunkTypeError     ChunkType = "error"
)

/*
Chunk is one element of a streaming invocation.  Text chunks carry Text,
tool chunks carry Tool and optionally Detail, error chunks carry Err.
*/
type Chunk struct {
	Type     ChunkType
	Text     string
	Tool     string
	Detail   map[string]any
	Err      error
	Metadata Metadata
}

func TextChunk(text string) Chunk {
	return Chunk{Type: ChunkTypeText, Text: text}
}

func ToolStartChunk(tool string, detail map[string]any) Chunk {
	return Chunk{Type: ChunkTypeToolStart, Tool: tool, Detail: detail}
}

func ToolEndChunk(tool string, detail map[string]any) Chunk {
	return Chunk{Type: ChunkTypeToolEnd, Tool: tool, Detail: detail}
}

func ErrorChunk(err error) Chunk {
	return Chunk{Type: ChunkTypeError, Err: err}
}
