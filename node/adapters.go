package node

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playergold/node/chain"
	"github.com/playergold/node/consensus"
	"github.com/playergold/node/errors"
	"github.com/playergold/node/p2p"
	"github.com/playergold/node/syncer"
	"golang.org/x/sync/errgroup"
)

// callKind discriminates sub-protocols carried over the fixed p2p
// message types, since spec.md §4.6 fixes the wire message-type
// enumeration and proposal/vote/status/download exchanges are not
// separate types in it.
type callKind string

const (
	kindStatusRequest    callKind = "status_request"
	kindStatusResponse   callKind = "status_response"
	kindDownloadRequest  callKind = "download_request"
	kindDownloadResponse callKind = "download_response"
	kindProposal         callKind = "proposal"
	kindVote             callKind = "vote"
)

type envelopeBody struct {
	Kind      callKind        `json:"kind"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// callRouter correlates outbound requests with their asynchronous
// replies by request id, since the transport dispatches inbound
// messages to handlers rather than returning them from Send.
type callRouter struct {
	mu      sync.Mutex
	pending map[string]chan envelopeBody
}

func newCallRouter() *callRouter {
	return &callRouter{pending: make(map[string]chan envelopeBody)}
}

func (r *callRouter) await(requestID string) chan envelopeBody {
	ch := make(chan envelopeBody, 1)
	r.mu.Lock()
	r.pending[requestID] = ch
	r.mu.Unlock()
	return ch
}

func (r *callRouter) resolve(body envelopeBody) {
	r.mu.Lock()
	ch, ok := r.pending[body.RequestID]
	if ok {
		delete(r.pending, body.RequestID)
	}
	r.mu.Unlock()
	if ok {
		ch <- body
	}
}

func (r *callRouter) cancel(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}

// peerClientAdapter implements syncer.PeerClient over the p2p
// transport using request/response correlation via callRouter.
type peerClientAdapter struct {
	transport *p2p.Transport
	router    *callRouter
}

func (a *peerClientAdapter) RequestStatus(ctx context.Context, peerID string) (syncer.StatusResponse, error) {
	reqID := uuid.NewString()
	ch := a.router.await(reqID)

	body := envelopeBody{Kind: kindStatusRequest, RequestID: reqID}
	if err := a.transport.Send(peerID, p2p.MsgSyncRequest, body); err != nil {
		a.router.cancel(reqID)
		return syncer.StatusResponse{}, err
	}

	select {
	case reply := <-ch:
		var resp syncer.StatusResponse
		if err := json.Unmarshal(reply.Data, &resp); err != nil {
			return syncer.StatusResponse{}, errors.NewProtocolError("decode status response", err)
		}
		return resp, nil
	case <-ctx.Done():
		a.router.cancel(reqID)
		return syncer.StatusResponse{}, errors.NewTransientNetworkError("status request timed out", ctx.Err())
	}
}

func (a *peerClientAdapter) DownloadBlocks(ctx context.Context, peerID string, fromHeight uint64, limit int) ([]chain.Block, error) {
	reqID := uuid.NewString()
	ch := a.router.await(reqID)

	payload, _ := json.Marshal(map[string]interface{}{"from_height": fromHeight, "limit": limit})
	body := envelopeBody{Kind: kindDownloadRequest, RequestID: reqID, Data: payload}
	if err := a.transport.Send(peerID, p2p.MsgSyncRequest, body); err != nil {
		a.router.cancel(reqID)
		return nil, err
	}

	select {
	case reply := <-ch:
		var blocks []chain.Block
		if err := json.Unmarshal(reply.Data, &blocks); err != nil {
			return nil, errors.NewProtocolError("decode download response", err)
		}
		return blocks, nil
	case <-ctx.Done():
		a.router.cancel(reqID)
		return nil, errors.NewTransientNetworkError("download request timed out", ctx.Err())
	}
}

// consensusNetworkAdapter implements consensus.Network over the p2p
// transport: it broadcasts a proposal as a Block message and collects
// votes arriving asynchronously through the same request id.
type consensusNetworkAdapter struct {
	transport *p2p.Transport
	router    *callRouter
	voteWait  time.Duration
}

// BroadcastProposal sends p to every peer and collects votes arriving
// on the same request id for up to voteWait, per spec.md §4.11's
// 5-second vote window. Collection runs under an errgroup-managed,
// cancellable wait rather than a bare timer, so the single collector
// goroutine is joined before votes are returned.
func (a *consensusNetworkAdapter) BroadcastProposal(ctx context.Context, p consensus.Proposal) ([]consensus.Vote, error) {
	reqID := uuid.NewString()
	ch := a.router.await(reqID)
	defer a.router.cancel(reqID)

	payload, _ := json.Marshal(p)
	body := envelopeBody{Kind: kindProposal, RequestID: reqID, Data: payload}
	a.transport.Broadcast(p2p.MsgBlock, body)

	waitCtx, cancel := context.WithTimeout(ctx, a.voteWait)
	defer cancel()

	var mu sync.Mutex
	var votes []consensus.Vote
	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		for {
			select {
			case reply := <-ch:
				var v consensus.Vote
				if err := json.Unmarshal(reply.Data, &v); err == nil {
					mu.Lock()
					votes = append(votes, v)
					mu.Unlock()
				}
				ch = a.router.await(reqID) // keep listening for further votes on the same id
			case <-gctx.Done():
				return nil
			}
		}
	})
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return votes, nil
}

// registerTransportHandlers wires the router into the transport's
// message handlers for the sync-request/response and block (proposal)
// message types. serve answers inbound status/download requests.
func registerTransportHandlers(transport *p2p.Transport, router *callRouter, serve syncRequestServer, voteOnProposal func(p2p.Envelope, consensus.Proposal) consensus.Vote) {
	transport.OnMessage(p2p.MsgSyncRequest, func(peerID string, env p2p.Envelope) {
		var body envelopeBody
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return
		}

		switch body.Kind {
		case kindStatusRequest:
			resp := serve.Status()
			data, _ := json.Marshal(resp)
			_ = transport.Send(peerID, p2p.MsgSyncResponse, envelopeBody{Kind: kindStatusResponse, RequestID: body.RequestID, Data: data})
		case kindDownloadRequest:
			var req struct {
				FromHeight uint64 `json:"from_height"`
				Limit      int    `json:"limit"`
			}
			_ = json.Unmarshal(body.Data, &req)
			blocks := serve.DownloadBlocks(req.FromHeight, req.Limit)
			data, _ := json.Marshal(blocks)
			_ = transport.Send(peerID, p2p.MsgSyncResponse, envelopeBody{Kind: kindDownloadResponse, RequestID: body.RequestID, Data: data})
		}
	})

	transport.OnMessage(p2p.MsgSyncResponse, func(peerID string, env p2p.Envelope) {
		var body envelopeBody
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return
		}
		router.resolve(body)
	})

	transport.OnMessage(p2p.MsgBlock, func(peerID string, env p2p.Envelope) {
		var body envelopeBody
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return
		}
		switch body.Kind {
		case kindVote:
			router.resolve(body)
		case kindProposal:
			var p consensus.Proposal
			if err := json.Unmarshal(body.Data, &p); err != nil {
				return
			}
			vote := voteOnProposal(env, p)
			data, _ := json.Marshal(vote)
			_ = transport.Send(peerID, p2p.MsgBlock, envelopeBody{Kind: kindVote, RequestID: body.RequestID, Data: data})
		}
	})
}

// syncRequestServer answers inbound status/download requests from the
// node's own chain state.
type syncRequestServer interface {
	Status() syncer.StatusResponse
	DownloadBlocks(fromHeight uint64, limit int) []chain.Block
}
