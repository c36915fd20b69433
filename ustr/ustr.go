// Package ustr holds the byte-slice string type the kernel copies out
// of user memory a page at a time (vm.Vm_t.Userstr), so the copy can
// grow by appending without knowing the final length up front.
package ustr

/// Ustr is a byte string assembled from user memory by appending.
type Ustr []uint8

/// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}
