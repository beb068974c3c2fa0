package script

import (
	"fmt"
	"math"
	"os"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/levalup/quickdist/pkg/file"
)

const fileTypeName = "quickdist.file"

// registerHelpers installs the file userdata type and the quickdist global
// table exposing file constructors and the worker slot to user scripts.
func registerHelpers(state *lua.LState) {
	mt := state.NewTypeMetatable(fileTypeName)
	state.SetField(mt, "__index", state.SetFuncs(state.NewTable(), map[string]lua.LGFunction{
		"path":       fileLuaPath,
		"rel":        fileLuaRel,
		"origin":     fileLuaOrigin,
		"nocopy":     fileLuaNoCopy,
		"set_nocopy": fileLuaSetNoCopy,
	}))

	helpers := state.SetFuncs(state.NewTable(), map[string]lua.LGFunction{
		"workfile":  luaWorkFile,
		"localfile": luaLocalFile,
		"tempfile":  luaTempFile,
	})
	if slot, err := strconv.Atoi(os.Getenv("PROCESS_ID")); err == nil {
		state.SetField(helpers, "slot", lua.LNumber(slot))
	}
	state.SetGlobal("quickdist", helpers)
}

func pushFile(state *lua.LState, f *file.File) lua.LValue {
	ud := state.NewUserData()
	ud.Value = f
	state.SetMetatable(ud, state.GetTypeMetatable(fileTypeName))
	return ud
}

func checkFile(state *lua.LState) *file.File {
	ud := state.CheckUserData(1)
	if f, ok := ud.Value.(*file.File); ok {
		return f
	}
	state.ArgError(1, "file handle expected")
	return nil
}

func fileLuaPath(state *lua.LState) int {
	f := checkFile(state)
	path, err := f.Path()
	if err != nil {
		state.RaiseError("%v", err)
		return 0
	}
	state.Push(lua.LString(path))
	return 1
}

func fileLuaRel(state *lua.LState) int {
	state.Push(lua.LString(checkFile(state).Rel))
	return 1
}

func fileLuaOrigin(state *lua.LState) int {
	state.Push(lua.LString(checkFile(state).Origin))
	return 1
}

func fileLuaNoCopy(state *lua.LState) int {
	state.Push(lua.LBool(checkFile(state).NoCopy))
	return 1
}

func fileLuaSetNoCopy(state *lua.LState) int {
	f := checkFile(state)
	f.NoCopy = state.CheckBool(2)
	return 0
}

func luaWorkFile(state *lua.LState) int {
	path := state.CheckString(1)
	origin := state.OptString(2, "")
	f, err := file.NewWorkFile(path, origin)
	if err != nil {
		state.RaiseError("%v", err)
		return 0
	}
	state.Push(pushFile(state, f))
	return 1
}

func luaLocalFile(state *lua.LState) int {
	path := state.CheckString(1)
	origin := state.OptString(2, "")
	state.Push(pushFile(state, file.NewLocalFile(path, origin)))
	return 1
}

func luaTempFile(state *lua.LState) int {
	path := state.CheckString(1)
	origin := state.OptString(2, "")
	f, err := file.NewTempFile(path, origin)
	if err != nil {
		state.RaiseError("%v", err)
		return 0
	}
	state.Push(pushFile(state, f))
	return 1
}

// toLua converts a codec value into its Lua counterpart. File handles keep
// their identity through userdata so staging metadata survives the call.
func toLua(state *lua.LState, v any) (lua.LValue, error) {
	switch t := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(t), nil
	case int:
		return lua.LNumber(t), nil
	case int64:
		return lua.LNumber(t), nil
	case uint64:
		return lua.LNumber(t), nil
	case float64:
		return lua.LNumber(t), nil
	case string:
		return lua.LString(t), nil
	case []byte:
		return lua.LString(t), nil
	case *file.File:
		return pushFile(state, t), nil
	case []any:
		tbl := state.NewTable()
		for i, item := range t {
			lv, err := toLua(state, item)
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := state.NewTable()
		for k, item := range t {
			lv, err := toLua(state, item)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	default:
		return nil, fmt.Errorf("value of type %T cannot cross into the script", v)
	}
}

// fromLua converts a script value back into a codec value. Integral numbers
// come back as int64; tables with a dense 1..n integer key set come back as
// slices, everything else as string-keyed maps.
func fromLua(lv lua.LValue) (any, error) {
	switch t := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		n := float64(t)
		if math.Trunc(n) == n && !math.IsInf(n, 0) {
			return int64(n), nil
		}
		return n, nil
	case lua.LString:
		return string(t), nil
	case *lua.LUserData:
		if f, ok := t.Value.(*file.File); ok {
			return f, nil
		}
		return nil, fmt.Errorf("userdata of type %T cannot leave the script", t.Value)
	case *lua.LTable:
		return tableToGo(t)
	default:
		return nil, fmt.Errorf("script value of type %s cannot be serialized", lv.Type())
	}
}

func tableToGo(tbl *lua.LTable) (any, error) {
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) {
		count++
	})

	n := tbl.MaxN()
	if n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			v, err := fromLua(tbl.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var convErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		gv, err := fromLua(v)
		if err != nil {
			convErr = err
			return
		}
		out[k.String()] = gv
	})
	if convErr != nil {
		return nil, convErr
	}
	return out, nil
}
