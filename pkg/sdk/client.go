// Package sdk is the client-side library for the Chronovault owner store.
// It offers segregated store interfaces, typed helpers, owner scopes with
// client-side encryption, and a TCP/TLS client for the store daemon.
package sdk

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/chronovault/internal/logging"
)

// EnvDisableTLS switches the client to plain TCP when set to "true".
const EnvDisableTLS = "CHRONOVAULT_DISABLE_TLS"

const maxAttempts = 3

// Client is a remote client for the store daemon. It implements OwnerStore.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// Connect dials the store daemon at addr over TLS, or plain TCP when
// CHRONOVAULT_DISABLE_TLS is "true".
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	var (
		conn net.Conn
		err  error
	)
	if os.Getenv(EnvDisableTLS) == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // the daemon uses a self-signed cert
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// remoteErrors maps daemon error text back to the shared sentinels.
var remoteErrors = map[string]error{
	ErrOwnerNotFound.Error(): ErrOwnerNotFound,
	ErrFieldNotFound.Error(): ErrFieldNotFound,
	ErrInvalidKey.Error():    ErrInvalidKey,
	ErrInvalidValue.Error():  ErrInvalidValue,
}

func remoteError(msg string) error {
	if err, ok := remoteErrors[msg]; ok {
		return err
	}
	return errors.New(msg)
}

// sendAndReceive writes one command line and reads one response line.
// Transport failures are retried with a fresh connection; daemon errors are
// returned immediately.
func (c *Client) sendAndReceive(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		err  error
		resp string
	)
	for i := 0; i < maxAttempts; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if msg, ok := strings.CutPrefix(resp, "ERR "); ok {
					return "", remoteError(msg)
				}
				return resp, nil
			}
		}

		logging.Warnf("store client: attempt %d failed: %v, reconnecting", i+1, err)
		if closeErr := c.reconnect(); closeErr != nil {
			logging.Warnf("store client: reconnect failed: %v", closeErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after %d attempts: %w", maxAttempts, err)
}

func payload(resp string) []byte {
	return []byte(strings.TrimPrefix(strings.TrimPrefix(resp, "OK"), " "))
}

func (c *Client) Get(owner, field string) (json.RawMessage, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("GET %s %s", owner, field))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload(resp)), nil
}

func (c *Client) Put(owner, field string, val json.RawMessage) error {
	// The protocol is line based; values travel compacted.
	var buf bytes.Buffer
	if err := json.Compact(&buf, val); err != nil {
		return ErrInvalidValue
	}
	_, err := c.sendAndReceive(fmt.Sprintf("PUT %s %s %s", owner, field, buf.String()))
	return err
}

func (c *Client) Delete(owner, field string) error {
	_, err := c.sendAndReceive(fmt.Sprintf("DEL %s %s", owner, field))
	return err
}

func (c *Client) Purge(owner string) error {
	_, err := c.sendAndReceive(fmt.Sprintf("PURGE %s", owner))
	return err
}

func (c *Client) Owners() ([]string, error) {
	resp, err := c.sendAndReceive("OWNERS")
	if err != nil {
		return nil, err
	}
	var list []string
	err = json.Unmarshal(payload(resp), &list)
	return list, err
}

func (c *Client) Fields(owner string) ([]string, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("FIELDS %s", owner))
	if err != nil {
		return nil, err
	}
	var list []string
	err = json.Unmarshal(payload(resp), &list)
	return list, err
}

func (c *Client) Dump(owner string) (map[string]json.RawMessage, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("DUMP %s", owner))
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	err = json.Unmarshal(payload(resp), &out)
	return out, err
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	resp, err := c.sendAndReceive("PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response %q", resp)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}
