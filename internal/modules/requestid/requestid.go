// Package requestid tags every request with an ID and echoes it on the
// response.
package requestid

import (
	"regexp"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// ModuleType is the configuration name of this module.
const ModuleType = "requestid"

// Header carries the ID in both directions.
const Header = "X-Request-ID"

// ItemKey is the Request.Items key holding the ID.
const ItemKey = "request_id"

// Inbound IDs are trusted only when they look like an ID.
var validID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Module adopts a well-formed inbound X-Request-ID as the request ID and
// sets the header on the first send.
type Module struct{}

var _ pipeline.Module = (*Module)(nil)

func (m *Module) Init(ev *pipeline.Events) error {
	if err := ev.On(domain.Stages(domain.StageBeginRequest), m.begin); err != nil {
		return err
	}
	return ev.On(domain.Stages(domain.StageSendResponse), m.send)
}

func (m *Module) begin(req *pipeline.Request) error {
	if id := req.Header.Get(Header); validID.MatchString(id) {
		req.ID = id
	}
	req.Items[ItemKey] = req.ID
	return nil
}

func (m *Module) send(req *pipeline.Request) error {
	if req.IsFirstSend() && !req.Response().HeadersWritten() {
		req.Response().Header.Set(Header, req.ID)
	}
	return nil
}

func (m *Module) Dispose() {}

// Register adds the module to the catalog.
func Register() {
	if catalog.IsRegistered(ModuleType) {
		return
	}
	catalog.RegisterFactory(catalog.Factory{
		Type:        ModuleType,
		Description: "Adopts or assigns X-Request-ID",
		Build: func(catalog.Params) (func() pipeline.Module, error) {
			return func() pipeline.Module { return &Module{} }, nil
		},
	})
}
