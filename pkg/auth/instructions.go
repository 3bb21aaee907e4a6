package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide explains how to obtain a registry token
func ShowTokenGuide(w io.Writer, registry string) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "REGISTRY ACCESS TOKEN")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Registry: %s\n\n", registry)
	fmt.Fprintln(w, "The public npm registry needs no token. Use one for private registries")
	fmt.Fprintln(w, "or to get higher rate limits.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  npm:        npm token create --read-only")
	fmt.Fprintln(w, "  web:        Account settings > Access Tokens > Generate New Token")
	fmt.Fprintln(w, "              (choose a read-only granular token)")
	fmt.Fprintln(w, "  verdaccio,")
	fmt.Fprintln(w, "  artifactory: copy the _authToken from your ~/.npmrc")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token is only sent to the registry host, never to tarball CDNs.")
	fmt.Fprintf(w, "It can also be supplied through %s.\n", TokenEnvVar)
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
}
