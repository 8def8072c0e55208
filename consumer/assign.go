package consumer

// Group membership protocol payloads. Member metadata (what topics a member
// wants) and assignments (what partitions a member got) travel as opaque
// bytes inside JoinGroup and SyncGroup; their encoding is the same
// big-endian wire format as the enclosing protocol.

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"github.com/courier-mq/courier/api/JoinGroup"
	"github.com/courier-mq/courier/api/SyncGroup"
	"github.com/courier-mq/courier/wire"
)

const protocolName = "range"

// MemberMetadata is each member's subscription, sent in JoinGroup.
type MemberMetadata struct {
	Version  int16
	Topics   []string
	UserData []byte
}

// MemberAssignment is one member's partition assignment, distributed by the
// leader in SyncGroup.
type MemberAssignment struct {
	Version  int16
	Topics   []AssignedTopic
	UserData []byte
}

type AssignedTopic struct {
	Topic      string
	Partitions []int32
}

func marshalMetadata(topics []string) []byte {
	m := &MemberMetadata{Topics: topics}
	buf := new(bytes.Buffer)
	if err := wire.Write(buf, reflect.ValueOf(m)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func unmarshalMetadata(b []byte) (*MemberMetadata, error) {
	m := &MemberMetadata{}
	if err := wire.Read(bytes.NewBuffer(b), reflect.ValueOf(m)); err != nil {
		return nil, fmt.Errorf("error parsing member metadata: %w", err)
	}
	return m, nil
}

func marshalAssignment(a *MemberAssignment) []byte {
	buf := new(bytes.Buffer)
	if err := wire.Write(buf, reflect.ValueOf(a)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func unmarshalAssignment(b []byte) (*MemberAssignment, error) {
	a := &MemberAssignment{}
	if err := wire.Read(bytes.NewBuffer(b), reflect.ValueOf(a)); err != nil {
		return nil, fmt.Errorf("error parsing member assignment: %w", err)
	}
	return a, nil
}

// assignRange distributes partitions topic by topic: members subscribed to a
// topic (sorted by member id) each get a contiguous chunk of its partitions,
// with the first len(partitions)%len(members) members getting one extra.
// Every partition of every subscribed topic is assigned to exactly one
// member. The group leader runs this and hands the result to SyncGroup.
func assignRange(members []JoinGroup.Member, partitions map[string][]int32) ([]SyncGroup.Assignment, error) {
	subscribers := make(map[string][]string) // topic -> member ids
	for _, m := range members {
		meta, err := unmarshalMetadata(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.MemberId, err)
		}
		for _, topic := range meta.Topics {
			subscribers[topic] = append(subscribers[topic], m.MemberId)
		}
	}
	assigned := make(map[string]map[string][]int32) // member -> topic -> partitions
	for _, m := range members {
		assigned[m.MemberId] = make(map[string][]int32)
	}
	topics := make([]string, 0, len(subscribers))
	for topic := range subscribers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		ids := subscribers[topic]
		sort.Strings(ids)
		parts := append([]int32(nil), partitions[topic]...)
		sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
		per := len(parts) / len(ids)
		extra := len(parts) % len(ids)
		i := 0
		for rank, id := range ids {
			n := per
			if rank < extra {
				n++
			}
			if n == 0 {
				continue
			}
			assigned[id][topic] = parts[i : i+n]
			i += n
		}
	}
	out := make([]SyncGroup.Assignment, 0, len(members))
	for _, m := range members {
		a := &MemberAssignment{}
		memberTopics := make([]string, 0, len(assigned[m.MemberId]))
		for topic := range assigned[m.MemberId] {
			memberTopics = append(memberTopics, topic)
		}
		sort.Strings(memberTopics)
		for _, topic := range memberTopics {
			a.Topics = append(a.Topics, AssignedTopic{Topic: topic, Partitions: assigned[m.MemberId][topic]})
		}
		out = append(out, SyncGroup.Assignment{MemberId: m.MemberId, Assignment: marshalAssignment(a)})
	}
	return out, nil
}
