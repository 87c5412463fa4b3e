// Package jobs holds the job body format, the queue client, and the runner
// that polls the queue and dispatches generate and match jobs.
package jobs

import (
	"fmt"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/encoding"
)

// JobType selects which pipeline a job runs.
type JobType string

const (
	JobTypeGeneratePubPairList JobType = "GENERATE_PUB_PAIR_LIST"
	JobTypeMatch               JobType = "MATCH"
)

// AttestationInfo carries the fields the object-store client needs to attest
// for cross-tenant bucket access.
type AttestationInfo struct {
	ProjectID   string `msgpack:"project_id"`
	WIPProvider string `msgpack:"wip_provider"`
}

// PairJob is the decoded job body. Only the fields relevant to the job type
// are required; Validate enforces which.
type PairJob struct {
	JobType JobType `msgpack:"job_type"`

	PublisherInputBucket       string `msgpack:"publisher_input_bucket"`
	PublisherUserListBlobPath  string `msgpack:"publisher_user_list_blob_path"`
	PublisherMetadataBlobPath  string `msgpack:"publisher_metadata_blob_path"`
	PublisherMappingBlobPath   string `msgpack:"publisher_mapping_blob_path"`
	AdvertiserInputBucket      string `msgpack:"advertiser_input_bucket"`
	AdvertiserUserListBlobPath string `msgpack:"advertiser_user_list_blob_path"`
	MatchOutputBucket          string `msgpack:"match_output_bucket"`
	MatchListBlobPath          string `msgpack:"match_list_blob_path"`

	PublisherBucketAttestation  *AttestationInfo `msgpack:"publisher_bucket_attestation,omitempty"`
	AdvertiserBucketAttestation *AttestationInfo `msgpack:"advertiser_bucket_attestation,omitempty"`
}

// DecodeJobBody parses a msgpack job body.
func DecodeJobBody(body []byte) (*PairJob, error) {
	var job PairJob
	if err := encoding.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decoding job body: %w", err)
	}
	return &job, nil
}

// Encode serializes the job body.
func (j *PairJob) Encode() ([]byte, error) {
	return encoding.Marshal(j)
}

// Validate checks that the fields the job type needs are present.
func (j *PairJob) Validate() error {
	switch j.JobType {
	case JobTypeGeneratePubPairList:
		if j.PublisherInputBucket == "" {
			return fmt.Errorf("generate job requires publisher_input_bucket")
		}
		if j.PublisherUserListBlobPath == "" {
			return fmt.Errorf("generate job requires publisher_user_list_blob_path")
		}
		if j.PublisherMetadataBlobPath == "" {
			return fmt.Errorf("generate job requires publisher_metadata_blob_path")
		}
	case JobTypeMatch:
		if j.PublisherInputBucket == "" {
			return fmt.Errorf("match job requires publisher_input_bucket")
		}
		if j.PublisherMappingBlobPath == "" {
			return fmt.Errorf("match job requires publisher_mapping_blob_path")
		}
		if j.AdvertiserInputBucket == "" {
			return fmt.Errorf("match job requires advertiser_input_bucket")
		}
		if j.AdvertiserUserListBlobPath == "" {
			return fmt.Errorf("match job requires advertiser_user_list_blob_path")
		}
		if j.MatchOutputBucket == "" {
			return fmt.Errorf("match job requires match_output_bucket")
		}
	default:
		return fmt.Errorf("invalid job type: %q", j.JobType)
	}
	return nil
}

// PublisherIdentity returns the cloud identity for publisher bucket access,
// or nil when the job carries no attestation fields.
func (j *PairJob) PublisherIdentity() *common.CloudIdentity {
	if j.PublisherBucketAttestation == nil {
		return nil
	}
	return common.BuildGCPCloudIdentity(
		j.PublisherBucketAttestation.ProjectID,
		j.PublisherBucketAttestation.WIPProvider,
	)
}

// AdvertiserIdentity returns the cloud identity for advertiser bucket
// access, or nil when the job carries no attestation fields.
func (j *PairJob) AdvertiserIdentity() *common.CloudIdentity {
	if j.AdvertiserBucketAttestation == nil {
		return nil
	}
	return common.BuildGCPCloudIdentity(
		j.AdvertiserBucketAttestation.ProjectID,
		j.AdvertiserBucketAttestation.WIPProvider,
	)
}
