// Package domain defines the core types shared by every layer of the
// request pipeline: stages, stage sets, shutdown reasons and the error
// taxonomy.
package domain

import (
	"fmt"
	"strings"
)

// Stage identifies one notification in the request lifecycle.
// Stages are ordinal values; their relative order is fixed by stageOrder.
type Stage uint8

const (
	StageBeginRequest Stage = iota
	StageAuthenticateRequest
	StageAuthorizeRequest
	StageResolveRequestCache
	StageMapRequestHandler
	StageAcquireRequestState
	StagePreExecuteRequestHandler
	StageExecuteRequestHandler
	StageReleaseRequestState
	StageUpdateRequestCache
	StageLogRequest
	StageEndRequest
	StageSendResponse

	numStages = int(StageSendResponse) + 1
)

// StageCount is the number of distinct stages.
const StageCount = numStages

// stageOrder is the total order of the pipeline. The walk visits stages in
// exactly this sequence; only SendResponse may be entered more than once.
var stageOrder = [numStages]Stage{
	StageBeginRequest,
	StageAuthenticateRequest,
	StageAuthorizeRequest,
	StageResolveRequestCache,
	StageMapRequestHandler,
	StageAcquireRequestState,
	StagePreExecuteRequestHandler,
	StageExecuteRequestHandler,
	StageReleaseRequestState,
	StageUpdateRequestCache,
	StageLogRequest,
	StageEndRequest,
	StageSendResponse,
}

var stageNames = [numStages]string{
	"BeginRequest",
	"AuthenticateRequest",
	"AuthorizeRequest",
	"ResolveRequestCache",
	"MapRequestHandler",
	"AcquireRequestState",
	"PreExecuteRequestHandler",
	"ExecuteRequestHandler",
	"ReleaseRequestState",
	"UpdateRequestCache",
	"LogRequest",
	"EndRequest",
	"SendResponse",
}

// AllStages returns the stages in pipeline order.
func AllStages() []Stage {
	out := make([]Stage, numStages)
	copy(out, stageOrder[:])
	return out
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool { return int(s) < numStages }

// Index returns the position of s in the pipeline order.
func (s Stage) Index() int { return int(s) }

// Before reports whether s runs strictly before o.
func (s Stage) Before(o Stage) bool { return s.Index() < o.Index() }

// Next returns the stage following s and false when s is the last stage.
func (s Stage) Next() (Stage, bool) {
	i := s.Index() + 1
	if i >= numStages {
		return s, false
	}
	return stageOrder[i], true
}

// HasPostPhase reports whether extensions may subscribe to the post
// notification of s. SendResponse is a single-phase stage.
func (s Stage) HasPostPhase() bool { return s != StageSendResponse }

// IsCleanup reports whether s must run even after an error or an explicit
// CompleteRequest.
func (s Stage) IsCleanup() bool {
	return s == StageLogRequest || s == StageEndRequest || s == StageSendResponse
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// ParseStage resolves a stage by name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if strings.EqualFold(n, name) {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", ErrInvalidArgument, name)
}

// StageSet is a set of stages used to subscribe one callback to several
// notifications at once.
type StageSet uint16

// Stages builds a set from the given stages.
func Stages(stages ...Stage) StageSet {
	var set StageSet
	for _, s := range stages {
		set = set.With(s)
	}
	return set
}

// With returns a copy of the set that also contains s.
func (set StageSet) With(s Stage) StageSet {
	if !s.Valid() {
		return set
	}
	return set | 1<<s
}

// Has reports whether s is a member of the set.
func (set StageSet) Has(s Stage) bool {
	return s.Valid() && set&(1<<s) != 0
}

// Empty reports whether the set has no members.
func (set StageSet) Empty() bool { return set == 0 }

// Each returns the members of the set in pipeline order.
func (set StageSet) Each() []Stage {
	var out []Stage
	for _, s := range stageOrder {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (set StageSet) String() string {
	stages := set.Each()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.String()
	}
	return strings.Join(names, "|")
}
