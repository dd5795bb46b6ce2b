// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package comm provides collective operations (broadcast, gather, barrier)
// among a fixed group of goroutines, each identified by a rank in
// [0, size).
//
// Every collective is named by a tag, and each tag names exactly one
// operation in which all ranks take part.  Blocking calls return ctx.Err()
// when ctx is cancelled, so an error in one participant that cancels the
// shared context releases every other participant.
package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/syncqueue"
)

// Group is the shared state of one set of participants.
type Group struct {
	size int

	mu  sync.Mutex
	ops map[string]*op
}

type op struct {
	// ready is closed when a broadcast value is available, or when all ranks
	// have reached a barrier.
	ready   chan struct{}
	value   interface{}
	arrived int
	queue   *syncqueue.OrderedQueue
}

// NewGroup creates a group of size participants.
func NewGroup(size int) *Group {
	if size < 1 {
		panic(fmt.Sprintf("comm.NewGroup: size %d", size))
	}
	return &Group{size: size, ops: make(map[string]*op)}
}

// Size returns the number of participants.
func (g *Group) Size() int { return g.size }

// Comm returns the handle used by the participant with the given rank.
func (g *Group) Comm(rank int) *Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0, %d)", rank, g.size))
	}
	return &Comm{g: g, rank: rank}
}

func (g *Group) op(tag string) *op {
	g.mu.Lock()
	defer g.mu.Unlock()
	o := g.ops[tag]
	if o == nil {
		o = &op{
			ready: make(chan struct{}),
			queue: syncqueue.NewOrderedQueue(g.size),
		}
		g.ops[tag] = o
	}
	return o
}

// Comm is one participant's view of a Group.
type Comm struct {
	g    *Group
	rank int
}

// Rank returns the participant's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the group size.
func (c *Comm) Size() int { return c.g.size }

func (c *Comm) checkRoot(root int) {
	if root < 0 || root >= c.g.size {
		panic(fmt.Sprintf("comm: root %d out of range [0, %d)", root, c.g.size))
	}
}

// Bcast sends v from root to every rank.  On root it returns v immediately;
// elsewhere it blocks until root has called Bcast with the same tag.
func (c *Comm) Bcast(ctx context.Context, tag string, root int, v interface{}) (interface{}, error) {
	c.checkRoot(root)
	o := c.g.op(tag)
	if c.rank == root {
		o.value = v
		close(o.ready)
		return v, nil
	}
	select {
	case <-o.ready:
		return o.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// gathered boxes a Gather value so that nil values can be queued.
type gathered struct{ v interface{} }

// Gather collects one value from every rank on root.  Root receives the
// values indexed by rank; other ranks return nil without waiting.
func (c *Comm) Gather(ctx context.Context, tag string, root int, v interface{}) ([]interface{}, error) {
	c.checkRoot(root)
	o := c.g.op(tag)
	if err := o.queue.Insert(c.rank, &gathered{v}); err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, nil
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = o.queue.Close(ctx.Err())
		case <-stop:
		}
	}()
	vals := make([]interface{}, 0, c.g.size)
	for len(vals) < c.g.size {
		val, ok, err := o.queue.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.E(errors.Canceled, fmt.Sprintf("comm: gather %s closed after %d of %d values", tag, len(vals), c.g.size))
		}
		vals = append(vals, val.(*gathered).v)
	}
	return vals, nil
}

// Barrier blocks until every rank has called Barrier with the same tag.
func (c *Comm) Barrier(ctx context.Context, tag string) error {
	o := c.g.op(tag)
	c.g.mu.Lock()
	o.arrived++
	if o.arrived == c.g.size {
		close(o.ready)
	}
	c.g.mu.Unlock()
	select {
	case <-o.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
