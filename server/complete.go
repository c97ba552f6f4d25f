package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/h2co3/sparkling/vm"
)

const maxCompletions = 100

// Completion kinds.
const (
	kindFunction = "function"
	kindLibrary  = "library"
	kindVariable = "variable"
	kindKeyword  = "keyword"
)

// completion is one candidate produced by completeGlobals.
type completion struct {
	Label  string
	Kind   string
	Detail string
}

// completeGlobals lists globals starting with prefix. A prefix of the form
// "lib.part" lists the members of the hashmap global lib instead.
// Must be called on the VM worker goroutine.
func completeGlobals(v *vm.VM, prefix string) []completion {
	var items []completion
	if i := strings.LastIndexByte(prefix, '.'); i >= 0 {
		lib, part := prefix[:i], prefix[i+1:]
		val, ok := v.Global(lib)
		if !ok {
			return nil
		}
		h := val.AsHashMap()
		if h == nil {
			return nil
		}
		h.Each(func(key, member vm.Value) {
			if !key.IsString() || !strings.HasPrefix(key.AsString(), part) {
				return
			}
			name := key.AsString()
			items = append(items, completion{
				Label:  name,
				Kind:   completionKind(member),
				Detail: lib + "." + name + ": " + describeValue(member),
			})
		})
		sort.Slice(items, func(a, b int) bool { return items[a].Label < items[b].Label })
	} else {
		for _, name := range v.GlobalNames() {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			val, _ := v.Global(name)
			items = append(items, completion{
				Label:  name,
				Kind:   completionKind(val),
				Detail: describeValue(val),
			})
		}
	}

	if len(items) > maxCompletions {
		items = items[:maxCompletions]
	}
	return items
}

func completionKind(val vm.Value) string {
	switch {
	case val.IsFunction():
		return kindFunction
	case val.AsHashMap() != nil:
		return kindLibrary
	}
	return kindVariable
}

// describeValue is a one-line summary of a global's value.
func describeValue(val vm.Value) string {
	if f := val.AsFunction(); f != nil {
		if f.Kind() == vm.FuncNative {
			return "native function"
		}
		return fmt.Sprintf("function (%d parameters)", f.Argc())
	}
	if h := val.AsHashMap(); h != nil {
		return fmt.Sprintf("hashmap (%d members)", h.Len())
	}
	if val.IsString() {
		return fmt.Sprintf("string %q", val.AsString())
	}
	return val.TypeName() + " " + val.String()
}

// describeGlobal renders Markdown hover text for a global, or for a member
// of a hashmap global when qualifier is set. ok is false if no such value
// exists. Must be called on the VM worker goroutine.
func describeGlobal(v *vm.VM, qualifier, name string) (string, bool) {
	full := name
	val, ok := v.Global(name)
	if qualifier != "" {
		lib, found := v.Global(qualifier)
		h := lib.AsHashMap()
		if !found || h == nil {
			return "", false
		}
		val = h.Get(vm.NewString(name))
		ok = !val.IsNil()
		full = qualifier + "." + name
	}
	if !ok {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: %s", full, describeValue(val))
	if h := val.AsHashMap(); h != nil && h.Len() > 0 {
		var members []string
		h.Each(func(key, _ vm.Value) {
			if key.IsString() {
				members = append(members, "`"+key.AsString()+"`")
			}
		})
		sort.Strings(members)
		b.WriteString("\n\nMembers: ")
		b.WriteString(strings.Join(members, ", "))
	}
	return b.String(), true
}
