package perm

// OwnerKind discriminates which kind of entity produced a permission match.
type OwnerKind int

const (
	OwnerNone OwnerKind = iota
	OwnerUser
	OwnerGroup
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerUser:
		return "user"
	case OwnerGroup:
		return "group"
	default:
		return "none"
	}
}

// CheckResult is the outcome of a permission resolution: the verdict, the
// entity whose token produced it and the matched token itself.
type CheckResult struct {
	Verdict   Verdict
	OwnerKind OwnerKind
	Owner     string
	Token     string
}

// NotFoundResult is the zero verdict attributed to nobody.
func NotFoundResult() CheckResult {
	return CheckResult{Verdict: NotFound}
}
