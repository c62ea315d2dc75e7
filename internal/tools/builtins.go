// Package tools registers the built-in tool set. The CLI wires these into
// the registry at startup; tests register their own fakes instead.
package tools

import (
	"github.com/weftworks/loom/internal/tool"
	"github.com/weftworks/loom/internal/tools/calculator"
	"github.com/weftworks/loom/internal/tools/echo"
	"github.com/weftworks/loom/internal/tools/search"
	"github.com/weftworks/loom/internal/tools/sum"
	"github.com/weftworks/loom/internal/tools/visiturl"
	"github.com/weftworks/loom/internal/tools/weather"
)

// RegisterBuiltins adds every built-in tool to the registry.
func RegisterBuiltins(reg *tool.Registry) error {
	builtins := []tool.Tool{
		echo.New(),
		sum.New(),
		calculator.New(),
		weather.New(),
		search.New(),
		visiturl.New(),
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
