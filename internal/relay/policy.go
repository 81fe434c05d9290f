package relay

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(scope *Scope, member *Member) BackpressureAction
}

// SimplePolicy kicks any member that cannot keep up. A native call cannot
// survive lost offers or candidates anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*Scope, *Member) BackpressureAction {
	return KickMember
}
