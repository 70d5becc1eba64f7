package resolver

import "github.com/pkg/errors"

var (
	errConfigNoFamily = errors.New("resolver: neither IPv4 nor IPv6 is allowed")
	errNoGroupsJoined = errors.New("resolver: no multicast group join succeeded")
)
