package agents

import (
	"sort"

	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// ComposeFunc builds the reassembled message from the per-index payloads of
// one complete group, index order.
type ComposeFunc func(items []any) (any, error)

// defaultCompose concatenates list-valued pieces into one list and falls
// back to the plain slice of payloads otherwise.
func defaultCompose(items []any) (any, error) {
	var flat []any
	for _, item := range items {
		sub, ok := item.([]any)
		if !ok {
			return items, nil
		}
		flat = append(flat, sub...)
	}
	return flat, nil
}

// collectorBucket accumulates the pieces of one split until every index has
// arrived.
type collectorBucket struct {
	Key   engine.Parents `json:"key"`
	Total int            `json:"total"`
	Items map[int]any    `json:"items"`
}

// collectorState persists partial buckets across steps and checkpoints.
type collectorState struct {
	Buckets map[string]*collectorBucket `json:"buckets"`
}

// ListCollector reassembles messages that were split by one send. Pieces are
// bucketed by every parent except the last (the per-send tag), together with
// the UUID of that last tag, so each bucket holds one send's pieces; a bucket is
// complete once indices 0..L-1 have all arrived, where L is the length field
// of the pieces' shared last parent. On completion the composed message is
// emitted with the bucket's group key as its parents.
type ListCollector struct {
	*engine.BaseAgent
	compose ComposeFunc
	state   *collectorState
}

// NewListCollector creates a collector with the default composition.
func NewListCollector(id string) *ListCollector {
	return NewListCollectorFunc(id, defaultCompose)
}

// NewListCollectorFunc creates a collector with a custom composition.
func NewListCollectorFunc(id string, compose ComposeFunc) *ListCollector {
	state := &collectorState{Buckets: make(map[string]*collectorBucket)}
	return &ListCollector{
		BaseAgent: engine.NewBaseAgent("collector",
			engine.WithUUID(id),
			engine.WithInput(nil),
			engine.WithState(state, 1),
		),
		compose: compose,
		state:   state,
	}
}

func (c *ListCollector) Step() (engine.Activity, error) {
	in := c.Input("")
	d, ok := in.Pop()
	if !ok {
		return engine.Idle, nil
	}
	c.NoteInput(d)

	// A message with no provenance cannot belong to a split; pass it on.
	if len(d.Parents) == 0 {
		out, err := c.compose([]any{d.Payload})
		if err != nil {
			return engine.Productive, err
		}
		return engine.Productive, c.Output().Send(out, d.Parents)
	}

	last := d.Parents[len(d.Parents)-1]
	key := d.Parents.GroupKey(len(d.Parents) - 1)
	// Bucket on the prefix plus the per-send UUID: two splits reaching this
	// collector over the same prefix must not merge.
	bucketKey := key.Key() + "|" + last.ID

	bucket, exists := c.state.Buckets[bucketKey]
	if !exists {
		bucket = &collectorBucket{Key: key, Total: last.Total, Items: make(map[int]any)}
		c.state.Buckets[bucketKey] = bucket
	}
	if last.Total != bucket.Total {
		return engine.Productive, &engine.ParentIDError{Tag: last.String(), Reason: "siblings disagree on list length"}
	}
	bucket.Items[last.Index] = d.Payload

	if len(bucket.Items) < bucket.Total {
		return engine.Productive, nil
	}

	indices := make([]int, 0, len(bucket.Items))
	for i := range bucket.Items {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	items := make([]any, 0, len(indices))
	for _, i := range indices {
		items = append(items, bucket.Items[i])
	}
	delete(c.state.Buckets, bucketKey)

	out, err := c.compose(items)
	if err != nil {
		return engine.Productive, err
	}
	return engine.Productive, c.Output().Send(out, bucket.Key)
}

// PendingBuckets returns how many incomplete groups are buffered.
func (c *ListCollector) PendingBuckets() int {
	return len(c.state.Buckets)
}

func init() {
	agentpipe.Register("collector", func(def agentpipe.AgentDef) (engine.Agent, error) {
		return NewListCollector(def.Name), nil
	})
}
