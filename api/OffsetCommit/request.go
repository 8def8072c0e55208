package OffsetCommit

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest commits offsets for a set of partitions of one topic. The
// request is tagged with the member's current generation; a commit carrying a
// stale generation is rejected by the broker with ILLEGAL_GENERATION.
func NewRequest(group, member string, generation int32, topic string, offsets map[int32]int64, retentionMs int64) *api.Request {
	var partitions []Partition
	for partition, offset := range offsets {
		partitions = append(partitions, Partition{
			PartitionIndex:    partition,
			CommittedOffset:   offset,
			CommittedMetadata: "",
		})
	}
	t := Topic{
		Name:       topic,
		Partitions: partitions,
	}
	return &api.Request{
		ApiKey:     api.OffsetCommit,
		ApiVersion: 2,
		Body: Request{
			GroupId:         group,
			GenerationId:    generation,
			MemberId:        member,
			RetentionTimeMs: retentionMs,
			Topics:          []Topic{t},
		},
	}
}

type Request struct {
	GroupId         string
	GenerationId    int32
	MemberId        string
	RetentionTimeMs int64
	Topics          []Topic
}

type Topic struct {
	Name       string
	Partitions []Partition
}

type Partition struct {
	PartitionIndex    int32
	CommittedOffset   int64
	CommittedMetadata string
}
