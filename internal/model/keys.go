package model

import "strings"

// SystemBeds24 is the external system tag used in booking references.
const SystemBeds24 = "beds24"

const localRefPrefix = "staysync:"

// ExternalRef builds the stable key an externally sourced booking is stored
// and looked up under. Inbound import, outbound push-back and reconciliation
// must all derive the key through this function.
func ExternalRef(system, externalID string) string {
	return system + ":" + externalID
}

// LocalRef tags a reservation pushed to the external system with the local
// booking it mirrors.
func LocalRef(bookingID string) string {
	return localRefPrefix + bookingID
}

// ParseLocalRef extracts the local booking id from a reference produced by
// LocalRef.
func ParseLocalRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, localRefPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(ref, localRefPrefix)
	return id, id != ""
}
