//go:build !linux

package conn

// SetMark is a no-op outside Linux, which is the only platform this
// module's fwmark routing integration targets.
func (bind *StdNetBind) SetMark(mark uint32) error { return nil }

func (bind *RawIPBind) SetMark(mark uint32) error { return nil }
