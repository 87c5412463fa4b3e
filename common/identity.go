package common

// CloudIdentity identifies the cloud tenant a blob operation is performed as.
// It is threaded opaquely from the job body down to the object-store client,
// which exchanges it for an attestation token out of band.
type CloudIdentity struct {
	// OwnerID is the project that owns the bucket being accessed.
	OwnerID string
	// WIPProvider is the workload-identity-pool provider to attest against.
	WIPProvider string
}

// BuildGCPCloudIdentity builds the identity used for cross-tenant GCS access.
func BuildGCPCloudIdentity(projectID, wipProvider string) *CloudIdentity {
	return &CloudIdentity{
		OwnerID:     projectID,
		WIPProvider: wipProvider,
	}
}
