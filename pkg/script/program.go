package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Program is a loaded user script: a private interpreter state plus the
// bound entry points. One worker process owns exactly one Program; it is
// not safe for concurrent use.
type Program struct {
	state *lua.LState
	main  *lua.LFunction
	init  *lua.LFunction
}

// Load executes the script chunk in a fresh interpreter and binds the
// mandatory main entry and the optional init entry.
func Load(src Source) (*Program, error) {
	state := lua.NewState()
	registerHelpers(state)

	var err error
	switch {
	case src.Path != "":
		err = state.DoFile(src.Path)
	case src.Text != "":
		err = state.DoString(src.Text)
	default:
		err = fmt.Errorf("empty script source")
	}
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("failed to load script: %w", err)
	}

	mainFn, ok := state.GetGlobal("main").(*lua.LFunction)
	if !ok {
		state.Close()
		return nil, fmt.Errorf("the script does not define a callable 'main' function")
	}

	p := &Program{state: state, main: mainFn}
	switch initVal := state.GetGlobal("init").(type) {
	case *lua.LFunction:
		p.init = initVal
	case *lua.LNilType:
	default:
		state.Close()
		return nil, fmt.Errorf("the script 'init' is not callable")
	}
	return p, nil
}

// Init runs the script's init entry once, if present.
func (p *Program) Init() error {
	if p.init == nil {
		return nil
	}
	if err := p.state.CallByParam(lua.P{Fn: p.init, NRet: 0, Protect: true}); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	return nil
}

// Main invokes the script's main entry. Positional args map to Lua
// arguments; non-empty kwargs are appended as a trailing table. Every Lua
// return value becomes one element of the result tuple.
func (p *Program) Main(args []any, kwargs map[string]any) ([]any, error) {
	state := p.state

	callArgs := make([]lua.LValue, 0, len(args)+1)
	for _, a := range args {
		lv, err := toLua(state, a)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, lv)
	}
	if len(kwargs) > 0 {
		lv, err := toLua(state, kwargs)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, lv)
	}

	top := state.GetTop()
	if err := state.CallByParam(lua.P{Fn: p.main, NRet: lua.MultRet, Protect: true}, callArgs...); err != nil {
		state.SetTop(top)
		return nil, fmt.Errorf("main failed: %w", err)
	}

	nret := state.GetTop() - top
	results := make([]any, 0, nret)
	for i := 1; i <= nret; i++ {
		v, err := fromLua(state.Get(top + i))
		if err != nil {
			state.SetTop(top)
			return nil, err
		}
		results = append(results, v)
	}
	state.SetTop(top)
	return results, nil
}

// Close releases the interpreter.
func (p *Program) Close() {
	p.state.Close()
}
