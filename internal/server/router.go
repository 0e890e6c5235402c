// Package server exposes an owner store over a line-oriented TCP protocol.
//
//	GET <owner> <field>         -> OK <json> | ERR <msg>
//	PUT <owner> <field> <json>  -> OK | ERR <msg>
//	DEL <owner> <field>         -> OK | ERR <msg>
//	PURGE <owner>               -> OK | ERR <msg>
//	OWNERS                      -> OK ["0x..",...]
//	FIELDS <owner>              -> OK ["heirs",...]
//	DUMP <owner>                -> OK {"heirs":...} | ERR <msg>
//	PING                        -> PONG
//	QUIT                        closes the connection
//
// Fields marked with Protect are read-only over the protocol.
package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

const maxConns = 100

// Router serves one OwnerStore to TCP clients.
type Router struct {
	store   sdk.OwnerStore
	cert    *tls.Certificate
	metrics *metrics.Metrics

	// protected fields may only be written in-process.
	protected map[string]bool

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewRouter(s sdk.OwnerStore) *Router {
	return &Router{store: s}
}

// SetCertificate enables TLS on the listener.
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// SetMetrics records per-command counters on m.
func (r *Router) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Protect makes fields read-only over the protocol. PUT and DEL on them
// are refused, as is PURGE of an owner that holds any of them. Call it
// before Listen.
func (r *Router) Protect(fields ...string) {
	if r.protected == nil {
		r.protected = make(map[string]bool, len(fields))
	}
	for _, f := range fields {
		r.protected[f] = true
	}
}

// holdsProtected reports whether owner has a protected field in the store.
func (r *Router) holdsProtected(owner string) (bool, error) {
	if len(r.protected) == 0 {
		return false, nil
	}
	fields, err := r.store.Fields(owner)
	if err != nil {
		return false, err
	}
	for _, f := range fields {
		if r.protected[f] {
			return true, nil
		}
	}
	return false, nil
}

// Listen accepts connections on addr until Stop is called. A bare port such
// as "7001" is treated as ":7001".
func (r *Router) Listen(addr string) error {
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	var (
		listener net.Listener
		err      error
	)
	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()
	logging.Infof("store protocol listening on %s (tls=%t)", listener.Addr(), r.cert != nil)

	semaphore := make(chan struct{}, maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Warnf("accept: %v", err)
			continue
		}

		// Hard cap per connection to prevent resource exhaustion.
		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener. Open connections finish their current command.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// HandleConnection serves commands from conn until QUIT, EOF or an idle
// timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debugf("connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// The value is the remainder after owner and field, spaces included.
		parts := strings.SplitN(line, " ", 4)
		command := strings.ToUpper(parts[0])
		r.metrics.StoreCommand(command)

		if command == "QUIT" {
			return
		}
		fmt.Fprintln(conn, r.dispatch(command, parts[1:]))
	}
}

func (r *Router) dispatch(command string, args []string) string {
	switch command {
	case "GET":
		if len(args) != 2 {
			return "ERR usage: GET <owner> <field>"
		}
		val, err := r.store.Get(args[0], args[1])
		return encode(val, err)

	case "PUT":
		if len(args) != 3 {
			return "ERR usage: PUT <owner> <field> <json>"
		}
		if r.protected[args[1]] {
			return "ERR field " + args[1] + " is read-only"
		}
		if err := r.store.Put(args[0], args[1], json.RawMessage(args[2])); err != nil {
			return "ERR " + err.Error()
		}
		return "OK"

	case "DEL":
		if len(args) != 2 {
			return "ERR usage: DEL <owner> <field>"
		}
		if r.protected[args[1]] {
			return "ERR field " + args[1] + " is read-only"
		}
		if err := r.store.Delete(args[0], args[1]); err != nil {
			return "ERR " + err.Error()
		}
		return "OK"

	case "PURGE":
		if len(args) != 1 {
			return "ERR usage: PURGE <owner>"
		}
		held, err := r.holdsProtected(args[0])
		if err != nil {
			return "ERR " + err.Error()
		}
		if held {
			return "ERR owner " + args[0] + " holds read-only fields"
		}
		if err := r.store.Purge(args[0]); err != nil {
			return "ERR " + err.Error()
		}
		return "OK"

	case "OWNERS":
		list, err := r.store.Owners()
		return encode(list, err)

	case "FIELDS":
		if len(args) != 1 {
			return "ERR usage: FIELDS <owner>"
		}
		list, err := r.store.Fields(args[0])
		return encode(list, err)

	case "DUMP":
		if len(args) != 1 {
			return "ERR usage: DUMP <owner>"
		}
		data, err := r.store.Dump(args[0])
		return encode(data, err)

	case "PING":
		return "PONG"

	default:
		return "ERR unknown command " + command
	}
}

// encode marshals v onto a single line. Raw JSON values come back compacted.
func encode(v any, err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	res, err := json.Marshal(v)
	if err != nil {
		return "ERR internal error"
	}
	return "OK " + string(res)
}
