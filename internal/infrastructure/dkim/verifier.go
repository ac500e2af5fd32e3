// SPDX-License-Identifier: AGPL-3.0-or-later
package dkim

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Verifier checks a domain's published DKIM TXT record against the key
// this system generated for it. net.Resolver is the standard library's
// DNS client; nothing in the reference corpus wraps DNS TXT lookups, so
// there is no third-party alternative to reach for here.
type Verifier struct {
	resolver *net.Resolver
}

func NewVerifier() *Verifier {
	return &Verifier{resolver: net.DefaultResolver}
}

// Verify looks up `<selector>._domainkey.<domain>` and reports whether a
// TXT record containing the expected public key is published.
func (v *Verifier) Verify(ctx context.Context, domain, selector, expectedPublicKeyBase64 string) (bool, error) {
	name := fmt.Sprintf("%s._domainkey.%s", selector, domain)
	records, err := v.resolver.LookupTXT(ctx, name)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return false, nil
		}
		return false, fmt.Errorf("lookup dkim txt record for %s: %w", name, err)
	}
	for _, rec := range records {
		if strings.Contains(rec, expectedPublicKeyBase64) {
			return true, nil
		}
	}
	return false, nil
}
