package catalog

// CanCheckout reports whether a checkout of h may be attempted. It is an
// optimistic pre-check against the caller's last view of the holding; the
// service decides and may still refuse.
func CanCheckout(h Holding) bool {
	return h.Available > 0
}
