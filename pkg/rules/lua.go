// Package rules implements an optional, operator-supplied term-filter
// hook: a Lua script that can veto or rewrite individual terms before
// they reach the Scorer or TermStore. It is not part of the core
// classification engine (spec.md treats the engine as complete without
// it); it is a deployment-time extension point, adapted from the
// teacher's own Lua plugin machinery (pkg/plugins/lua.go).
package rules

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// maxVMs is the number of pre-warmed Lua states kept in the pool, the same
// fixed pool size the teacher's LuaPlugin uses. acquire builds an extra
// state when the pool is empty, so it does not cap concurrent use.
const maxVMs = 5

// Filter loads a Lua script exposing an optional global function
// filter_term(term: string) -> keep: bool, replacement: string|nil.
// If the script defines no such function, Apply is a no-op passthrough.
type Filter struct {
	scriptPath string
	vmPool     chan *lua.LState
	hasHook    bool
}

// Load reads and validates the script at path, pre-warming a pool of VMs.
func Load(path string) (*Filter, error) {
	f := &Filter{scriptPath: path, vmPool: make(chan *lua.LState, maxVMs)}

	for i := 0; i < maxVMs; i++ {
		vm, err := f.newVM()
		if err != nil {
			return nil, fmt.Errorf("rules: load %s: %w", path, err)
		}
		if i == 0 {
			f.hasHook = vm.GetGlobal("filter_term").Type() == lua.LTFunction
		}
		f.vmPool <- vm
	}

	return f, nil
}

// Close tears down every pooled VM.
func (f *Filter) Close() {
	close(f.vmPool)
	for vm := range f.vmPool {
		vm.Close()
	}
}

// Apply runs filter_term over every term, dropping those the script
// rejects and substituting any replacement it returns. Terms are
// processed independently so a script crash on one term (recovered, and
// treated as "keep unchanged") never discards the batch.
func (f *Filter) Apply(terms []string) []string {
	if !f.hasHook {
		return terms
	}

	vm := f.acquire()
	defer f.release(vm)

	out := make([]string, 0, len(terms))
	for _, term := range terms {
		keep, replacement := f.callHook(vm, term)
		if !keep {
			continue
		}
		if replacement != "" {
			out = append(out, replacement)
		} else {
			out = append(out, term)
		}
	}
	return out
}

func (f *Filter) callHook(vm *lua.LState, term string) (keep bool, replacement string) {
	defer func() {
		if r := recover(); r != nil {
			keep, replacement = true, ""
		}
	}()

	fn := vm.GetGlobal("filter_term")
	if err := vm.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, lua.LString(term)); err != nil {
		return true, ""
	}
	defer vm.Pop(2)

	keepVal := vm.Get(-2)
	replVal := vm.Get(-1)

	keep = true
	if b, ok := keepVal.(lua.LBool); ok {
		keep = bool(b)
	}
	if s, ok := replVal.(lua.LString); ok {
		replacement = string(s)
	}
	return keep, replacement
}

func (f *Filter) newVM() (*lua.LState, error) {
	vm := lua.NewState()
	registerAPI(vm)
	if err := vm.DoFile(f.scriptPath); err != nil {
		vm.Close()
		return nil, err
	}
	return vm, nil
}

func (f *Filter) acquire() *lua.LState {
	select {
	case vm := <-f.vmPool:
		return vm
	default:
		vm, err := f.newVM()
		if err != nil {
			return lua.NewState()
		}
		return vm
	}
}

func (f *Filter) release(vm *lua.LState) {
	select {
	case f.vmPool <- vm:
	default:
		vm.Close()
	}
}

// registerAPI exposes a small "mailprobe" helper table, the same shape
// as the teacher's "zpam" table (contains, domain_from_email), so
// existing operator scripts need minimal changes to adopt.
func registerAPI(vm *lua.LState) {
	tbl := vm.NewTable()
	vm.SetGlobal("mailprobe", tbl)

	vm.SetField(tbl, "contains", vm.NewFunction(func(vm *lua.LState) int {
		haystack := vm.CheckString(1)
		needle := vm.CheckString(2)
		vm.Push(lua.LBool(strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))))
		return 1
	}))

	vm.SetField(tbl, "domain_from_email", vm.NewFunction(func(vm *lua.LState) int {
		addr := vm.CheckString(1)
		parts := strings.SplitN(addr, "@", 2)
		if len(parts) == 2 {
			vm.Push(lua.LString(parts[1]))
		} else {
			vm.Push(lua.LString(""))
		}
		return 1
	}))
}
