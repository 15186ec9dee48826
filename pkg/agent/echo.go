package agent

import (
	"context"
	"strings"
)

/*
EchoAgent is a trivial reference implementation that fulfils every
invocation immediately by echoing back its input.  It demonstrates the
contract and makes the out of the box server experience pleasant; tests
lean on it heavily.
*/
type EchoAgent struct {
	// Prefix is prepended to every echoed reply, empty by default.
	Prefix string
}

func NewEchoAgent() *EchoAgent {
	return &EchoAgent{}
}

func (a *EchoAgent) Invoke(ctx context.Context, input string) (*Output, error) {
	return &Output{Text: a.Prefix + input}, nil
}

/*
Stream echoes the input word by word so callers exercise a genuinely
incremental sequence rather than a single chunk.
*/
func (a *EchoAgent) Stream(ctx context.Context, input string) (<-chan Chunk, error) {
	ch := make(chan Chunk, 4)

	go func() {
		defer close(ch)

		for i, word := range strings.Fields(a.Prefix + input) {
			text := word
			if i > 0 {
				text = " " + word
			}

			select {
			case ch <- TextChunk(text):
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
