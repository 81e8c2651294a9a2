// Package vm holds helpers around Freebox VM records: selection by id or
// name and size parsing for disk operations.
package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

// Select resolves a VM from the list by numeric id or exact name. A name
// matching several VMs is an error listing the candidates rather than an
// arbitrary pick.
func Select(vms []freebox.VM, selector string) (freebox.VM, error) {
	if id, err := strconv.Atoi(selector); err == nil {
		for _, vm := range vms {
			if vm.ID == id {
				return vm, nil
			}
		}
	}

	var matches []freebox.VM
	for _, vm := range vms {
		if vm.Name == selector {
			matches = append(matches, vm)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return freebox.VM{}, fmt.Errorf("no VM matches %q, use 'fbxvm list'", selector)
	default:
		var names []string
		for _, vm := range matches {
			names = append(names, fmt.Sprintf("%d: %s (%s)", vm.ID, vm.Name, vm.Status))
		}
		return freebox.VM{}, fmt.Errorf("selector %q is ambiguous:\n  %s", selector, strings.Join(names, "\n  "))
	}
}
