package pipeline

import (
	"context"
	"time"

	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

type jobKind uint8

const (
	jobEvent jobKind = iota
	jobAggregate
	jobRules
	jobTemplates
)

// job is the unit of work queued to a partition.
type job struct {
	kind      jobKind
	ctx       context.Context
	event     *event.Event
	trigger   rules.AggregationTrigger
	rules     rules.Command
	templates templates.Command
	result    chan<- jobResult
}

type jobResult struct {
	res *Result
	err error
}

// partition is one single-writer worker: a goroutine, a bounded queue and
// the stage it drives.
type partition struct {
	id         int
	stage      *Stage
	queue      chan job
	flushEvery time.Duration
}

func newPartition(id int, stage *Stage, depth int, flushEvery time.Duration) *partition {
	return &partition{
		id:         id,
		stage:      stage,
		queue:      make(chan job, depth),
		flushEvery: flushEvery,
	}
}

// run serves the queue until stop is closed or ctx is done. On stop it
// drains whatever is already queued.
func (p *partition) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case j := <-p.queue:
			p.handle(ctx, j)
		case <-ticker.C:
			p.stage.tick(ctx)
		case <-stop:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *partition) drain(ctx context.Context) {
	for {
		select {
		case j := <-p.queue:
			p.handle(ctx, j)
		default:
			return
		}
	}
}

func (p *partition) handle(ctx context.Context, j job) {
	if j.ctx != nil {
		ctx = j.ctx
	}
	var out jobResult
	switch j.kind {
	case jobEvent:
		out.res = p.stage.process(ctx, j.event)
	case jobAggregate:
		p.stage.aggregate(j.trigger)
	case jobRules:
		p.stage.applyRules(j.rules)
	case jobTemplates:
		out.err = p.stage.applyTemplates(j.templates)
	}
	if j.result != nil {
		j.result <- out
	}
}

// submit enqueues without blocking (returns false if full).
func (p *partition) submit(j job) bool {
	select {
	case p.queue <- j:
		return true
	default:
		return false
	}
}

// enqueue blocks until the job is queued or ctx is done.
func (p *partition) enqueue(ctx context.Context, j job) error {
	select {
	case p.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *partition) queueLen() int { return len(p.queue) }
func (p *partition) queueCap() int { return cap(p.queue) }
