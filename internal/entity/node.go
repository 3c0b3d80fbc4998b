package entity

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNodeNameMissing is returned if the broker config has no NODENAME line.
	ErrNodeNameMissing = errors.New("no NODENAME assignment in broker config")

	// ErrNodeNameAmbiguous is returned if the broker config assigns NODENAME
	// more than once with different values.
	ErrNodeNameAmbiguous = errors.New("conflicting NODENAME assignments in broker config")
)

// nodeNamePattern matches lines like "NODENAME=rabbit@messaging-node-6".
var nodeNamePattern = regexp.MustCompile(`(?m)^\s*NODENAME\s*=\s*(\S*)\s*$`)

// ParseNodeName extracts the broker node name from the contents of a
// rabbitmq-env.conf file.
func ParseNodeName(conf []byte) (string, error) {
	var name string
	for _, match := range nodeNamePattern.FindAllSubmatch(conf, -1) {
		switch found := string(match[1]); {
		case name == "":
			name = found
		case name != found:
			return "", ErrNodeNameAmbiguous
		}
	}
	if name == "" {
		return "", ErrNodeNameMissing
	}
	return name, nil
}

// ShortName returns the first label of a bus node address or hostname, so
// "messaging-node-6.domain" becomes "messaging-node-6".
func ShortName(addr string) string {
	if i := strings.IndexByte(addr, '.'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// IsSameNode reports whether the local short hostname appears as a whole
// token inside the departed node's short name. "node-1" matches "node-1" but
// not "node-10".
func IsSameNode(local, departed string) bool {
	if local == "" {
		return false
	}
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(local) + `\b`)
	if err != nil {
		return false
	}
	return pattern.MatchString(departed)
}
