// Package netinput ingests per-tick player input frames over a libp2p
// pubsub topic and feeds them into a replay recorder. Input always arrives
// before the tick it targets begins; the ingestor never calls back into the
// engine mid-tick, preserving the no-reentrancy rule the replay subsystem
// depends on.
package netinput

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	log "github.com/sirupsen/logrus"

	"github.com/Julesc013/dominium-sub002/core"
	"github.com/Julesc013/dominium-sub002/tlv"
)

var logger = log.WithField("component", "netinput")

const (
	fieldTick    uint32 = 1
	fieldPlayer  uint32 = 2
	fieldPayload uint32 = 3
)

// EncodeFrame builds the wire payload for one player's input at tickIndex.
func EncodeFrame(tickIndex, playerID uint64, payload []byte) []byte {
	var w tlv.Writer
	w.Add(fieldTick, tlv.PutU64(tickIndex))
	w.Add(fieldPlayer, tlv.PutU64(playerID))
	w.Add(fieldPayload, payload)
	return w.Bytes()
}

func decodeFrame(data []byte) (tickIndex, playerID uint64, payload []byte, err error) {
	entries, err := tlv.Decode(data)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("netinput: decode_frame: %w", err)
	}
	if b, ok := tlv.First(entries, fieldTick); ok {
		tickIndex, _ = tlv.GetU64(b)
	}
	if b, ok := tlv.First(entries, fieldPlayer); ok {
		playerID, _ = tlv.GetU64(b)
	}
	if b, ok := tlv.First(entries, fieldPayload); ok {
		payload = append([]byte(nil), b...)
	}
	return tickIndex, playerID, payload, nil
}

// Ingestor subscribes to one pubsub topic and feeds every message it
// receives into a replay subsystem via RecordInput.
type Ingestor struct {
	subID  string
	replay *core.ReplaySubsystem

	ctx    context.Context
	cancel context.CancelFunc

	host  host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewIngestor creates a libp2p host bound to listenAddr, joins topicName on
// gossipsub, and subscribes to it. Call Start to begin delivering input.
func NewIngestor(ctx context.Context, listenAddr, topicName string, replay *core.ReplaySubsystem) (*Ingestor, error) {
	ctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("netinput: new_ingestor: new host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("netinput: new_ingestor: new gossipsub: %w", err)
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("netinput: new_ingestor: join %s: %w", topicName, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("netinput: new_ingestor: subscribe %s: %w", topicName, err)
	}

	return &Ingestor{
		subID:  uuid.New().String(),
		replay: replay,
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		topic:  topic,
		sub:    sub,
	}, nil
}

// Start runs the ingestion loop until ctx is cancelled or Close is called.
// Malformed frames are logged and dropped; they never abort the loop.
func (g *Ingestor) Start() {
	logger.WithField("subscription", g.subID).Info("netinput ingestion started")
	for {
		msg, err := g.sub.Next(g.ctx)
		if err != nil {
			logger.WithField("subscription", g.subID).Debug("netinput subscription closed")
			return
		}
		tickIndex, playerID, payload, err := decodeFrame(msg.Data)
		if err != nil {
			logger.WithField("subscription", g.subID).Warnf("dropping malformed input frame: %v", err)
			continue
		}
		g.replay.RecordInput(tickIndex, playerID, payload)
	}
}

// Close tears down the subscription and host.
func (g *Ingestor) Close() {
	g.sub.Cancel()
	_ = g.topic.Close()
	g.cancel()
	_ = g.host.Close()
}
