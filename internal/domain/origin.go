package domain

// Origin identifies the discovery source an address is attributed to.
// An address keeps a single origin per run; precedence is resolved by
// the sources aggregator rather than by independent boolean flags.
type Origin uint8

const (
	OriginRegistry Origin = iota
	OriginInternetList
	OriginOpenMP
	OriginHosted
)

func (o Origin) String() string {
	switch o {
	case OriginHosted:
		return "hosted"
	case OriginOpenMP:
		return "openmp"
	case OriginInternetList:
		return "internet"
	default:
		return "registry"
	}
}

func ParseOrigin(raw string) Origin {
	switch raw {
	case "hosted":
		return OriginHosted
	case "openmp":
		return OriginOpenMP
	case "internet":
		return OriginInternetList
	default:
		return OriginRegistry
	}
}
