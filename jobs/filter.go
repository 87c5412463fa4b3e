package jobs

import (
	"fmt"

	"github.com/gobwas/glob"
)

// objectRef is one bucket/path pair a job will read or write.
type objectRef struct {
	bucket string
	path   string
}

// objectRefs lists every blob reference the job touches, so the allowlist
// can veto a job before any storage call happens.
func (j *PairJob) objectRefs() []objectRef {
	switch j.JobType {
	case JobTypeGeneratePubPairList:
		return []objectRef{
			{j.PublisherInputBucket, j.PublisherUserListBlobPath},
			{j.PublisherInputBucket, j.PublisherMetadataBlobPath},
		}
	case JobTypeMatch:
		return []objectRef{
			{j.PublisherInputBucket, j.PublisherMappingBlobPath},
			{j.AdvertiserInputBucket, j.AdvertiserUserListBlobPath},
			{j.MatchOutputBucket, j.MatchListBlobPath},
		}
	}
	return nil
}

// ruleSet is a compiled glob allowlist. An empty set permits everything;
// a non-empty set permits only what some pattern matches.
type ruleSet []glob.Glob

func compileRules(kind string, patterns []string) (ruleSet, error) {
	rules := make(ruleSet, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		rules = append(rules, g)
	}
	return rules, nil
}

func (r ruleSet) permits(value string) bool {
	if len(r) == 0 {
		return true
	}
	for _, g := range r {
		if g.Match(value) {
			return true
		}
	}
	return false
}

// PathFilter restricts which buckets and blob paths job bodies may name.
type PathFilter struct {
	buckets ruleSet
	paths   ruleSet
}

// NewPathFilter compiles the allowlist patterns.
func NewPathFilter(bucketPatterns, pathPatterns []string) (*PathFilter, error) {
	buckets, err := compileRules("bucket", bucketPatterns)
	if err != nil {
		return nil, err
	}
	paths, err := compileRules("path", pathPatterns)
	if err != nil {
		return nil, err
	}
	return &PathFilter{buckets: buckets, paths: paths}, nil
}

// Allow reports whether one bucket/path pair is inside the allowlist.
func (f *PathFilter) Allow(bucket, path string) bool {
	return f.buckets.permits(bucket) && f.paths.permits(path)
}

// AllowJob rejects the job if any reference it names falls outside the
// allowlist. A job with no references (unknown type) is rejected.
func (f *PathFilter) AllowJob(job *PairJob) bool {
	refs := job.objectRefs()
	if len(refs) == 0 {
		return false
	}
	for _, ref := range refs {
		if !f.Allow(ref.bucket, ref.path) {
			return false
		}
	}
	return true
}
