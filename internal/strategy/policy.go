package strategy

import (
	"fmt"
	"strings"
)

// Policy names a composed strategy.
type Policy string

const (
	RemoteOnly  Policy = "remote-only"
	RemoteFirst Policy = "remote-first"
	CacheOnly   Policy = "cache-only"
	CacheFirst  Policy = "cache-first"
)

// Policies lists every policy in display order.
var Policies = []Policy{RemoteOnly, RemoteFirst, CacheOnly, CacheFirst}

// ParsePolicy accepts the canonical names plus underscore and camel-case
// spellings ("cache_first", "CacheFirst").
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", "-")
	switch norm {
	case "remote-only", "remoteonly", "remote":
		return RemoteOnly, nil
	case "remote-first", "remotefirst", "":
		return RemoteFirst, nil
	case "cache-only", "cacheonly", "cache":
		return CacheOnly, nil
	case "cache-first", "cachefirst":
		return CacheFirst, nil
	}
	return "", fmt.Errorf("unknown cache policy %q (want one of %s)", s, strings.Join(policyNames(), ", "))
}

func policyNames() []string {
	names := make([]string, len(Policies))
	for i, p := range Policies {
		names[i] = string(p)
	}
	return names
}

// String implements pflag.Value.
func (p *Policy) String() string {
	if *p == "" {
		return string(RemoteFirst)
	}
	return string(*p)
}

// Set implements pflag.Value.
func (p *Policy) Set(s string) error {
	v, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Type implements pflag.Value.
func (p *Policy) Type() string {
	return "policy"
}

// For returns the read strategy of a policy:
//
//	RemoteOnly  = Remote
//	RemoteFirst = WhenSucceeds(Remote, WriteToCache)
//	CacheOnly   = ReadFromCache
//	CacheFirst  = WhenFails(ReadFromCache, WhenSucceeds(Remote, WriteToCache))
func For(p Policy) Strategy {
	switch p {
	case RemoteOnly:
		return Remote
	case CacheOnly:
		return ReadFromCache
	case CacheFirst:
		return WhenFails(ReadFromCache, WhenSucceeds(Remote, WriteToCache))
	default:
		return WhenSucceeds(Remote, WriteToCache)
	}
}

// ForWrite returns the strategy for requests that send local changes.
// RemoteFirst stores the change whether or not the server was reached, dirty
// when it was not. CacheOnly and CacheFirst store it dirty without sending,
// leaving it to the synchronizer.
func ForWrite(p Policy) Strategy {
	switch p {
	case RemoteOnly:
		return Remote
	case CacheOnly, CacheFirst:
		return WriteToCache
	default:
		return FirstThen(Remote, WriteToCache)
	}
}
