package conn

import "github.com/l00pss/redcore/resp"

// runPrelude implements spec.md §4.2 "Prelude on first use":
//
//  1. HELLO 3, optionally with AUTH <user> <pass> appended; fall back to
//     AUTH then HELLO 3 if the server rejects the combined form.
//  2. SELECT <db> if a non-zero database was requested.
//  3. CLIENT SETNAME if a client name was requested.
func runPrelude(c *Connection, o Options) error {
	helloReply, err := sendHello(c, o)
	if err != nil {
		return err
	}
	applyHelloAttrs(c, helloReply)

	if o.Database != 0 {
		v, err := c.Do("SELECT", o.Database)
		if err != nil {
			return err
		}
		if e, ok := v.AsError(); ok {
			return &CommandError{Kind: e.Kind, Message: e.Message}
		}
		c.attr.Database = o.Database
	}

	if o.ClientName != "" {
		v, err := c.Do("CLIENT", "SETNAME", o.ClientName)
		if err != nil {
			return err
		}
		if e, ok := v.AsError(); ok {
			return &CommandError{Kind: e.Kind, Message: e.Message}
		}
		c.attr.ClientName = o.ClientName
	}

	return nil
}

func sendHello(c *Connection, o Options) (resp.Value, error) {
	if o.Username != "" || o.Password != "" {
		v, err := helloWithAuth(c, o)
		if err == nil {
			if _, isErr := v.AsError(); !isErr {
				return v, nil
			}
		}
		// Combined form rejected (pre-6.0 server, or AUTH-before-HELLO
		// required) — fall back to AUTH then HELLO 3.
		if authErr := doAuth(c, o); authErr != nil {
			return resp.Value{}, authErr
		}
		return c.Do("HELLO", "3")
	}

	v, err := c.Do("HELLO", "3")
	if err != nil {
		return resp.Value{}, err
	}
	if e, ok := v.AsError(); ok {
		// HELLO 3 rejected outright with no credentials configured means
		// the server predates RESP3 — a fatal configuration error per
		// spec.md §6, not a silent downgrade.
		return resp.Value{}, &CommandError{Kind: e.Kind, Message: e.Message}
	}
	return v, nil
}

func helloWithAuth(c *Connection, o Options) (resp.Value, error) {
	user := o.Username
	if user == "" {
		user = "default"
	}
	return c.Do("HELLO", "3", "AUTH", user, o.Password)
}

func doAuth(c *Connection, o Options) error {
	var v resp.Value
	var err error
	if o.Username != "" {
		v, err = c.Do("AUTH", o.Username, o.Password)
	} else {
		v, err = c.Do("AUTH", o.Password)
	}
	if err != nil {
		return err
	}
	if e, ok := v.AsError(); ok {
		return &CommandError{Kind: e.Kind, Message: e.Message}
	}
	return nil
}

func applyHelloAttrs(c *Connection, v resp.Value) {
	if v.Kind != resp.KindMap {
		return
	}
	for _, p := range v.MapPairs {
		if p.Key.Kind != resp.KindSimpleString && p.Key.Kind != resp.KindBulkString {
			continue
		}
		key := p.Key.Str
		if key == "" {
			key = string(p.Key.Bulk)
		}
		switch key {
		case "proto":
			c.attr.ProtoVersion = p.Value.Int
		case "server":
			c.attr.Server = stringValue(p.Value)
		case "version":
			c.attr.Version = stringValue(p.Value)
		case "mode":
			c.attr.Mode = stringValue(p.Value)
		case "role":
			c.attr.Role = stringValue(p.Value)
		case "id":
			c.attr.ClientID = p.Value.Int
		}
	}
}

func stringValue(v resp.Value) string {
	if v.Kind == resp.KindBulkString {
		return string(v.Bulk)
	}
	return v.Str
}
