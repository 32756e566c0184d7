package conn

import "github.com/l00pss/redcore/resp"

// QueuedCommand is one command queued into a Pipeline.
type QueuedCommand struct {
	Name string
	Args []any
}

// PipelineResult holds the ordered replies for a pipeline, aligned 1:1
// with the queued commands. Server errors inside a pipeline are not
// raised during read (spec.md §4.3); they appear in Replies at their
// position. FirstError lets a caller opt into raising.
type PipelineResult struct {
	Replies []resp.Value
}

// FirstError returns the first server error found in the result, or nil.
// Resolves spec.md §9's pipeline-error-handling open question: the full
// list is always returned; raising the first one is the caller's choice.
func (r PipelineResult) FirstError() error {
	for _, v := range r.Replies {
		if e, ok := v.AsError(); ok {
			return &CommandError{Kind: e.Kind, Message: e.Message}
		}
	}
	return nil
}

// Pipeline writes every queued command concatenated in a single buffer,
// then reads exactly len(cmds) replies in order (spec.md §4.3 "Pipeline").
func (c *Connection) Pipeline(cmds []QueuedCommand) (PipelineResult, error) {
	c.enc.Reset()
	for _, cmd := range cmds {
		c.enc.Command(cmd.Name, cmd.Args...)
	}
	if err := c.writeBuf(c.enc.Bytes()); err != nil {
		return PipelineResult{}, err
	}

	replies := make([]resp.Value, len(cmds))
	for i := range cmds {
		v, err := c.readOneReply()
		if err != nil {
			return PipelineResult{Replies: replies[:i]}, err
		}
		replies[i] = v
	}
	return PipelineResult{Replies: replies}, nil
}
