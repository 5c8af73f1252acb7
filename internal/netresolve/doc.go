// Package netresolve answers the DNS lookups templates request through
// the hostname marker. Lookups can target explicit nameservers and
// search domains from the location layer instead of the host's own
// resolver, which matters when the machine running a build cannot see
// the lab's internal zones through its default configuration.
package netresolve
