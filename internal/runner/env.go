package runner

import (
	"os"
	"strings"
)

// proxyVars are stripped (not blanked) from the child environment when
// network access is disabled, so a pre-set proxy cannot carry traffic out.
var proxyVars = map[string]struct{}{
	"HTTP_PROXY":  {},
	"HTTPS_PROXY": {},
	"ALL_PROXY":   {},
	"FTP_PROXY":   {},
	"NO_PROXY":    {},
}

// buildEnv constructs the child environment from the parent's. With network
// disabled every proxy variable is removed. With network enabled the allowed
// hosts list is exported for the outbound policy shim; this is the documented
// weak guarantee, not a real network block.
func buildEnv(allowNetwork bool, allowedHosts []string) []string {
	parent := os.Environ()
	env := make([]string, 0, len(parent)+1)
	for _, kv := range parent {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !allowNetwork {
			if _, proxy := proxyVars[strings.ToUpper(name)]; proxy {
				continue
			}
		}
		env = append(env, kv)
	}
	if allowNetwork && len(allowedHosts) > 0 {
		env = append(env, "RUNBOX_ALLOWED_HOSTS="+strings.Join(allowedHosts, ","))
	}
	return env
}
