// Package builtin registers every module type shipped with reqpiped.
package builtin

import (
	"github.com/tjfontaine/reqpipe/internal/modules/accesslog"
	"github.com/tjfontaine/reqpipe/internal/modules/apikey"
	"github.com/tjfontaine/reqpipe/internal/modules/requestid"
	"github.com/tjfontaine/reqpipe/internal/modules/requestlog"
	"github.com/tjfontaine/reqpipe/internal/modules/webhook"
)

// Register adds the built-in module types to the catalog. It is safe to
// call more than once.
func Register() {
	requestid.Register()
	accesslog.Register()
	apikey.Register()
	requestlog.Register()
	webhook.Register()
}
