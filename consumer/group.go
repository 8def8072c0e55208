package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/FindCoordinator"
	"github.com/courier-mq/courier/api/Heartbeat"
	"github.com/courier-mq/courier/api/JoinGroup"
	"github.com/courier-mq/courier/api/LeaveGroup"
	"github.com/courier-mq/courier/api/OffsetCommit"
	"github.com/courier-mq/courier/api/OffsetFetch"
	"github.com/courier-mq/courier/api/SyncGroup"
	"github.com/courier-mq/courier/client"
)

// session is one generation of group membership. Everything in it is fenced
// by the generation id: commits and heartbeats carrying a stale generation
// are rejected by the broker, so a member that missed a rebalance cannot
// clobber the offsets of the member that took over its partitions.
type session struct {
	memberId   string
	generation int32
	assigned   map[string][]int32
}

func (s *session) partitions() []topicPartition {
	var out []topicPartition
	for topic, parts := range s.assigned {
		for _, p := range parts {
			out = append(out, topicPartition{topic: topic, partition: p})
		}
	}
	return out
}

type topicPartition struct {
	topic     string
	partition int32
}

// group handles membership calls against the group coordinator. The member
// id survives rejoins (the broker assigns it on first join); the generation
// does not.
type group struct {
	cl     *client.Client
	cfg    courier.ConsumerConfig
	logger log.Logger

	memberId string
}

func (g *group) coordinator(ctx context.Context) (*client.Conn, error) {
	return g.cl.Metadata.Coordinator(ctx, g.cfg.GroupId, FindCoordinator.CoordinatorGroup)
}

// join runs one JoinGroup+SyncGroup round and returns the resulting session.
// If this member is elected leader it computes the range assignment for the
// whole group.
func (g *group) join(ctx context.Context, topics []string) (*session, error) {
	var s *session
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, rebalanceTimeout(g.cfg))
		defer cancel()
		conn, err := g.coordinator(callCtx)
		if err != nil {
			return err
		}
		joinResp := &JoinGroup.Response{}
		req := JoinGroup.NewRequest(&JoinGroup.Args{
			GroupId:            g.cfg.GroupId,
			MemberId:           g.memberId,
			SessionTimeoutMs:   int32(g.cfg.SessionTimeoutMs),
			RebalanceTimeoutMs: int32(g.cfg.RebalanceTimeoutMs),
			ProtocolType:       "consumer",
			Protocols: []JoinGroup.Protocol{
				{Name: protocolName, Metadata: marshalMetadata(topics)},
			},
		})
		if err := conn.Call(callCtx, req, joinResp); err != nil {
			return err
		}
		if joinResp.ErrorCode == courier.ERR_UNKNOWN_MEMBER_ID {
			// the coordinator dropped us; rejoin as a new member
			g.memberId = ""
			return &courier.Error{Code: courier.ERR_REBALANCE_IN_PROGRESS}
		}
		if err := courier.ErrorFromCode(joinResp.ErrorCode); err != nil {
			return err
		}
		g.memberId = joinResp.MemberId
		var assignments []SyncGroup.Assignment
		if joinResp.IsLeader() {
			assignments, err = g.lead(callCtx, joinResp.Members)
			if err != nil {
				return err
			}
		}
		syncResp := &SyncGroup.Response{}
		syncReq := SyncGroup.NewRequest(g.cfg.GroupId, g.memberId, joinResp.GenerationId, assignments)
		if err := conn.Call(callCtx, syncReq, syncResp); err != nil {
			return err
		}
		if err := courier.ErrorFromCode(syncResp.ErrorCode); err != nil {
			return err
		}
		own, err := unmarshalAssignment(syncResp.Assignment)
		if err != nil {
			return err
		}
		assigned := make(map[string][]int32)
		for _, t := range own.Topics {
			assigned[t.Topic] = t.Partitions
		}
		s = &session{
			memberId:   g.memberId,
			generation: joinResp.GenerationId,
			assigned:   assigned,
		}
		level.Debug(g.logger).Log("msg", "joined group", "group", g.cfg.GroupId,
			"member", s.memberId, "generation", s.generation,
			"leader", joinResp.IsLeader(), "partitions", len(s.partitions()))
		return nil
	}
	if err := g.cl.Retry(ctx, op, nil); err != nil {
		return nil, fmt.Errorf("error joining group %s: %w", g.cfg.GroupId, err)
	}
	return s, nil
}

// lead computes assignments for all members. Partition counts come from the
// metadata cache, refreshed so a resized topic is picked up by the
// rebalance that follows the resize.
func (g *group) lead(ctx context.Context, members []JoinGroup.Member) ([]SyncGroup.Assignment, error) {
	topics := make(map[string]bool)
	for _, m := range members {
		meta, err := unmarshalMetadata(m.Metadata)
		if err != nil {
			return nil, err
		}
		for _, t := range meta.Topics {
			topics[t] = true
		}
	}
	partitions := make(map[string][]int32)
	for topic := range topics {
		snapshot, err := g.cl.Metadata.Refresh(ctx, topic)
		if err != nil {
			return nil, err
		}
		for _, p := range snapshot.Partitions {
			partitions[topic] = append(partitions[topic], p.Partition)
		}
	}
	return assignRange(members, partitions)
}

// heartbeat makes one heartbeat call. The error is the broker's verbatim
// classification: REBALANCE_IN_PROGRESS and ILLEGAL_GENERATION mean the
// session is over and the member must rejoin.
func (g *group) heartbeat(ctx context.Context, s *session) error {
	conn, err := g.coordinator(ctx)
	if err != nil {
		return err
	}
	resp := &Heartbeat.Response{}
	if err := conn.Call(ctx, Heartbeat.NewRequest(g.cfg.GroupId, s.memberId, s.generation), resp); err != nil {
		return err
	}
	return courier.ErrorFromCode(resp.ErrorCode)
}

// commit writes offsets for one topic, fenced by the session generation.
// Offsets are the next offset to consume (last processed + 1).
func (g *group) commit(ctx context.Context, s *session, topic string, offsets map[int32]int64) error {
	op := func() error {
		callCtx, cancel := g.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := g.coordinator(callCtx)
		if err != nil {
			return err
		}
		resp := &OffsetCommit.Response{}
		req := OffsetCommit.NewRequest(g.cfg.GroupId, s.memberId, s.generation, topic, offsets, -1)
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				if err := courier.ErrorFromCode(p.ErrorCode); err != nil {
					return fmt.Errorf("partition %d: %w", p.PartitionIndex, err)
				}
			}
		}
		return nil
	}
	if err := g.cl.Retry(ctx, op, nil); err != nil {
		var e *courier.Error
		if errors.As(err, &e) && e.Code == courier.ERR_ILLEGAL_GENERATION {
			return fmt.Errorf("%w: %v", courier.ErrIllegalGeneration, err)
		}
		return fmt.Errorf("error committing offsets for %s: %w", topic, err)
	}
	return nil
}

// committed fetches the group's committed offsets for the given partitions.
// Partitions with no commit come back as -1.
func (g *group) committed(ctx context.Context, topics map[string][]int32) (map[topicPartition]int64, error) {
	var out map[topicPartition]int64
	op := func() error {
		callCtx, cancel := g.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := g.coordinator(callCtx)
		if err != nil {
			return err
		}
		resp := &OffsetFetch.Response{}
		if err := conn.Call(callCtx, OffsetFetch.NewRequest(g.cfg.GroupId, topics), resp); err != nil {
			return err
		}
		if err := courier.ErrorFromCode(resp.ErrorCode); err != nil {
			return err
		}
		out = make(map[topicPartition]int64)
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				if err := courier.ErrorFromCode(p.ErrorCode); err != nil {
					return fmt.Errorf("partition %s[%d]: %w", t.Name, p.PartitionIndex, err)
				}
				out[topicPartition{topic: t.Name, partition: p.PartitionIndex}] = p.CommittedOffset
			}
		}
		return nil
	}
	if err := g.cl.Retry(ctx, op, nil); err != nil {
		return nil, fmt.Errorf("error fetching committed offsets: %w", err)
	}
	return out, nil
}

// leave tells the coordinator this member is gone, triggering an immediate
// rebalance instead of a session timeout wait. Best effort.
func (g *group) leave(ctx context.Context) {
	if g.memberId == "" {
		return
	}
	conn, err := g.coordinator(ctx)
	if err != nil {
		level.Debug(g.logger).Log("msg", "leave group skipped", "err", err)
		return
	}
	resp := &LeaveGroup.Response{}
	if err := conn.Call(ctx, LeaveGroup.NewRequest(g.cfg.GroupId, g.memberId), resp); err != nil {
		level.Debug(g.logger).Log("msg", "leave group failed", "err", err)
		return
	}
	level.Debug(g.logger).Log("msg", "left group", "group", g.cfg.GroupId, "member", g.memberId)
	g.memberId = ""
}
