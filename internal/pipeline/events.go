package pipeline

import (
	"fmt"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

const (
	phaseMain = 0
	phasePost = 1
)

func phaseOf(post bool) int {
	if post {
		return phasePost
	}
	return phaseMain
}

// stepTable holds the steps of every stage phase in execution order.
type stepTable [domain.StageCount][2][]step

// Events is handed to Module.Init to establish stage subscriptions. It is
// only usable for the duration of the Init call.
type Events struct {
	module string
	table  *stepTable
	closed bool
}

// Module returns the generated name of the module being initialised.
func (e *Events) Module() string { return e.module }

// On subscribes fn to the main phase of every stage in stages.
func (e *Events) On(stages domain.StageSet, fn EventFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidArgument)
	}
	return e.subscribe(stages, false, step{module: e.module, run: fn})
}

// OnPost subscribes fn to the post phase of every stage in stages.
func (e *Events) OnPost(stages domain.StageSet, fn EventFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidArgument)
	}
	return e.subscribe(stages, true, step{module: e.module, run: fn})
}

// OnAsync subscribes an asynchronous callback to the main phase of every
// stage in stages.
func (e *Events) OnAsync(stages domain.StageSet, fn AsyncEventFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidArgument)
	}
	return e.subscribe(stages, false, step{module: e.module, start: fn})
}

// OnPostAsync subscribes an asynchronous callback to the post phase of
// every stage in stages.
func (e *Events) OnPostAsync(stages domain.StageSet, fn AsyncEventFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidArgument)
	}
	return e.subscribe(stages, true, step{module: e.module, start: fn})
}

func (e *Events) subscribe(stages domain.StageSet, post bool, s step) error {
	if e.closed {
		return fmt.Errorf("%w: subscriptions are only accepted during Init", domain.ErrInvalidState)
	}
	if stages.Empty() {
		return fmt.Errorf("%w: empty stage set", domain.ErrInvalidArgument)
	}
	if post && stages.Has(domain.StageSendResponse) {
		return fmt.Errorf("%w: %s has no post phase", domain.ErrInvalidArgument, domain.StageSendResponse)
	}

	p := phaseOf(post)
	for _, st := range stages.Each() {
		e.table[st][p] = append(e.table[st][p], s)
	}
	return nil
}
