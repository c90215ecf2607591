package p2p

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the wire messages of spec.md §4.6.
type MessageType string

const (
	MsgTransaction          MessageType = "Transaction"
	MsgBlock                MessageType = "Block"
	MsgChallenge            MessageType = "Challenge"
	MsgSolution             MessageType = "Solution"
	MsgPeerDiscovery        MessageType = "PeerDiscovery"
	MsgAINodeDiscovery      MessageType = "AINodeDiscovery"
	MsgSyncRequest          MessageType = "SyncRequest"
	MsgSyncResponse         MessageType = "SyncResponse"
	MsgHeartbeat            MessageType = "Heartbeat"
	MsgFeeDistributionUpdate MessageType = "FeeDistributionUpdate"
	MsgHandshake            MessageType = "Handshake"
)

// Envelope is the JSON object framed on the wire, per spec.md §4.6: a
// 4-byte big-endian length prefix followed by this object.
type Envelope struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	NetworkID string          `json:"network_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Handler processes one inbound envelope from peerID.
type Handler func(peerID string, env Envelope)

func newEnvelope(nodeID, networkID string, t MessageType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      t,
		From:      nodeID,
		NetworkID: networkID,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}
