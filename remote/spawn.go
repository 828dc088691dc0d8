package remote

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/internal/wire"
)

// SpawnResult is what a successful Spawn returns.
type SpawnResult struct {
	Handle beamkit.Handle
}

// SpawnOptions configures a remote spawn request, per spec.md §4.6
// "Remote spawn".
type SpawnOptions struct {
	Name         string
	RegisterKind string // "", "local", "global" — "global" is wired by dsupervisor via globalreg
	Timeout      time.Duration
}

// Spawn asks peer to start behaviorName via its local catalog, per
// spec.md §4.6: "looks up the behavior in its local catalog
// (BehaviorNotFound if absent), starts a local GenServer with the given
// args, optionally registers it, and replies with { serverId, nodeId }
// or an error."
func (m *Manager) Spawn(ctx context.Context, peer cluster.NodeID, behaviorName string, args []interface{}, opts SpawnOptions) (SpawnResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(gen.DefaultCallTimeoutMs) * time.Millisecond
	}
	encodedArgs, err := msgpack.Marshal(args)
	if err != nil {
		return SpawnResult{}, beamkit.Wrap(beamkit.KindMessageSerialization, "remote.Spawn", err)
	}

	spawnID := newCorrelationID()
	p := m.spawns.register(spawnID, peer.String())
	defer m.spawns.drop(spawnID)

	body := cluster.SpawnRequestBody{
		Behavior: behaviorName, Args: encodedArgs, Name: opts.Name,
		RegisterKind: opts.RegisterKind, TimeoutMs: opts.Timeout.Milliseconds(),
	}
	if err := m.node.Send(peer, cluster.KindSpawnRequest, spawnID, body); err != nil {
		return SpawnResult{}, beamkit.Wrap(beamkit.KindNodeNotReachable, "remote.Spawn", err).WithNode(peer.String())
	}

	v, err := await(ctx, p, opts.Timeout, beamkit.KindRemoteSpawnTimeout, "remote.Spawn")
	if err != nil {
		return SpawnResult{}, err
	}
	return v.(SpawnResult), nil
}

func (m *Manager) handleSpawnRequest(from cluster.NodeID, env wire.Envelope) {
	var body cluster.SpawnRequestBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	factory, ok := m.catalog.Lookup(body.Behavior)
	if !ok {
		m.replySpawnError(from, env.CorrID, beamkit.KindBehaviorNotFound, "behavior not registered in catalog")
		return
	}

	var args []interface{}
	if len(body.Args) > 0 {
		if err := msgpack.Unmarshal(body.Args, &args); err != nil {
			m.replySpawnError(from, env.CorrID, beamkit.KindMessageSerialization, err.Error())
			return
		}
	}

	var startOpts []gen.Option
	if body.Name != "" {
		startOpts = append(startOpts, gen.WithName(body.Name))
	}
	startOpts = append(startOpts, gen.WithArgs(args...))

	handle, err := m.rt.Start(factory(args...), startOpts...)
	if err != nil {
		kind, ok := beamkit.KindOf(err)
		if !ok {
			kind = beamkit.KindRemoteSpawnInit
		}
		if kind == beamkit.KindAlreadyRegistered {
			kind = beamkit.KindRemoteSpawnRegistration
		}
		m.replySpawnError(from, env.CorrID, kind, err.Error())
		return
	}

	_ = m.node.Send(from, cluster.KindSpawnReply, env.CorrID, cluster.SpawnReplyBody{
		ServerID: handle.ID, NodeID: handle.NodeID,
	})
}

func (m *Manager) replySpawnError(from cluster.NodeID, corrID string, kind beamkit.Kind, message string) {
	_ = m.node.Send(from, cluster.KindSpawnReply, corrID, cluster.SpawnReplyBody{
		Error: &cluster.CallErrorBody{Kind: string(kind), Message: message},
	})
}

func (m *Manager) handleSpawnReply(from cluster.NodeID, env wire.Envelope) {
	var body cluster.SpawnReplyBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if body.Error != nil {
		m.spawns.complete(env.CorrID, nil, beamkit.New(beamkit.Kind(body.Error.Kind), "remote.Spawn", body.Error.Message))
		return
	}
	m.spawns.complete(env.CorrID, SpawnResult{Handle: beamkit.Handle{ID: body.ServerID, NodeID: body.NodeID}}, nil)
}
