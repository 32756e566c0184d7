package conn

import "github.com/l00pss/redcore/resp"

// TransactionResult is what Exec returns. Exec issues MULTI, the queued
// commands (each expected to reply +QUEUED), then EXEC, per spec.md §4.3
// "Transaction". The EXEC reply is
// either an array (one entry per queued command, individually possibly
// errors) or a null array if a WATCHed key was modified — exposed via
// Aborted rather than forcing the caller to inspect IsNull() itself.
type TransactionResult struct {
	Aborted bool
	Replies []resp.Value
}

// Watch issues WATCH on the given keys. Per spec.md §4.5.3, in cluster
// mode all watched keys must resolve to the same slot and WATCH, the
// transaction body, and EXEC/DISCARD/UNWATCH must share this connection —
// that invariant is enforced by the Client's Transaction (which calls
// routing.VerifySameSlot in cluster mode), not here; Connection only
// executes what it's told.
func (c *Connection) Watch(keys ...string) error {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	v, err := c.Do("WATCH", args...)
	if err != nil {
		return err
	}
	if e, ok := v.AsError(); ok {
		return &CommandError{Kind: e.Kind, Message: e.Message}
	}
	return nil
}

// Unwatch issues UNWATCH, releasing any keys watched by this connection.
func (c *Connection) Unwatch() error {
	v, err := c.Do("UNWATCH")
	if err != nil {
		return err
	}
	if e, ok := v.AsError(); ok {
		return &CommandError{Kind: e.Kind, Message: e.Message}
	}
	return nil
}

// Exec runs MULTI, each queued command, and EXEC as one pipelined
// exchange: all writes go out concatenated, then replies are read in
// order (QUEUED x N, then the EXEC array/null).
func (c *Connection) Exec(cmds []QueuedCommand) (TransactionResult, error) {
	c.enc.Reset()
	c.enc.Command("MULTI")
	for _, cmd := range cmds {
		c.enc.Command(cmd.Name, cmd.Args...)
	}
	c.enc.Command("EXEC")
	if err := c.writeBuf(c.enc.Bytes()); err != nil {
		return TransactionResult{}, err
	}

	// MULTI reply.
	if _, err := c.readOneReply(); err != nil {
		return TransactionResult{}, err
	}
	// One +QUEUED (or error) per queued command.
	for range cmds {
		if _, err := c.readOneReply(); err != nil {
			return TransactionResult{}, err
		}
	}
	// EXEC reply.
	execReply, err := c.readOneReply()
	if err != nil {
		return TransactionResult{}, err
	}
	if execReply.IsNull() {
		return TransactionResult{Aborted: true}, nil
	}
	return TransactionResult{Replies: execReply.Array}, nil
}

// Discard issues DISCARD, cancelling a transaction opened with MULTI.
func (c *Connection) Discard() error {
	v, err := c.Do("DISCARD")
	if err != nil {
		return err
	}
	if e, ok := v.AsError(); ok {
		return &CommandError{Kind: e.Kind, Message: e.Message}
	}
	return nil
}

