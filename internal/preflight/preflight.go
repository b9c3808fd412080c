// Package preflight probes the configured STUN/TURN servers before a
// call starts, so connectivity problems surface as a readable message
// instead of a peer connection stuck in "connecting".
package preflight

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/turn/v4"
	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/config"
)

// Result summarizes one probe run.
type Result struct {
	STUNReachable bool
	MappedAddress string

	// TURN fields stay zero when no TURN server is configured.
	TURNConfigured bool
	TURNReachable  bool
	RelayAddress   string
}

// OK reports whether a call is likely to connect: STUN must answer, and
// TURN must allocate when one is configured.
func (r Result) OK() bool {
	if !r.STUNReachable {
		return false
	}
	if r.TURNConfigured && !r.TURNReachable {
		return false
	}
	return true
}

// Checker runs the reachability probes.
type Checker struct {
	cfg config.ICEConfig
	log *zap.Logger
}

func NewChecker(cfg config.ICEConfig) *Checker {
	return &Checker{cfg: cfg, log: zap.L().Named("preflight")}
}

// Run probes every configured STUN URL until one answers a binding
// request, then attempts a TURN allocation if a relay is configured. The
// whole run is bounded by PreflightTimeout.
func (c *Checker) Run(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PreflightTimeout)
	defer cancel()

	var res Result

	for _, url := range c.cfg.STUNURLs {
		if ctx.Err() != nil {
			break
		}
		addr := strings.TrimPrefix(url, "stun:")
		mapped, err := c.probeSTUN(addr)
		if err != nil {
			c.log.Warn("STUN probe failed", zap.String("server", addr), zap.Error(err))
			continue
		}
		c.log.Info("STUN reachable", zap.String("server", addr), zap.String("mapped", mapped))
		res.STUNReachable = true
		res.MappedAddress = mapped
		break
	}

	if c.cfg.TURNURL != "" {
		res.TURNConfigured = true
		addr := turnAddr(c.cfg.TURNURL)
		relay, err := c.probeTURN(ctx, addr)
		if err != nil {
			c.log.Warn("TURN probe failed", zap.String("server", addr), zap.Error(err))
		} else {
			c.log.Info("TURN allocation succeeded",
				zap.String("server", addr), zap.String("relay", relay))
			res.TURNReachable = true
			res.RelayAddress = relay
		}
	}

	return res
}

// probeSTUN sends one binding request and returns the reflexive address
// the server saw.
func (c *Checker) probeSTUN(addr string) (string, error) {
	client, err := stun.Dial("udp4", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	var mapped string
	var cbErr error
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if err := client.Do(msg, func(res stun.Event) {
		if res.Error != nil {
			cbErr = res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if getErr := xorAddr.GetFrom(res.Message); getErr != nil {
			cbErr = getErr
			return
		}
		mapped = xorAddr.String()
	}); err != nil {
		return "", err
	}
	if cbErr != nil {
		return "", cbErr
	}
	if mapped == "" {
		return "", fmt.Errorf("no mapped address from %s", addr)
	}
	return mapped, nil
}

// probeTURN performs a real allocation against the relay and releases it
// immediately. An allocation proves both reachability and credentials.
func (c *Checker) probeTURN(ctx context.Context, addr string) (string, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	client, err := turn.NewClient(&turn.ClientConfig{
		STUNServerAddr: addr,
		TURNServerAddr: addr,
		Conn:           conn,
		Username:       c.cfg.TURNUser,
		Password:       c.cfg.TURNPass,
		RTO:            time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("turn client: %w", err)
	}
	defer client.Close()

	if err := client.Listen(); err != nil {
		return "", fmt.Errorf("turn listen: %w", err)
	}

	type allocation struct {
		conn net.PacketConn
		err  error
	}
	done := make(chan allocation, 1)
	go func() {
		relay, allocErr := client.Allocate()
		done <- allocation{conn: relay, err: allocErr}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		if a.err != nil {
			return "", fmt.Errorf("allocate: %w", a.err)
		}
		relayAddr := a.conn.LocalAddr().String()
		a.conn.Close()
		return relayAddr, nil
	}
}

// turnAddr strips the scheme and transport query from a TURN URL,
// leaving host:port for the client dialer.
func turnAddr(url string) string {
	addr := strings.TrimPrefix(url, "turns:")
	addr = strings.TrimPrefix(addr, "turn:")
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}
