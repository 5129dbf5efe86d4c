package memory

import (
	"encoding/json"
	"fmt"
)

// BucketNames lists the snapshot buckets in persistence order.
var BucketNames = []string{"variables", "variable_versions", "surveys", "survey_versions", "open_data"}

func (s *Snapshot) bucketTargets() map[string]any {
	return map[string]any{
		"variables":         &s.Variables,
		"variable_versions": &s.VariableVersions,
		"surveys":           &s.Surveys,
		"survey_versions":   &s.SurveyVersions,
		"open_data":         &s.OpenData,
	}
}

// EncodeBuckets serialises each bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	targets := s.bucketTargets()
	out := make(map[string][]byte, len(BucketNames))
	for _, bucket := range BucketNames {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from JSON buckets. Unknown buckets are
// ignored so rows written by other builds do not block startup.
func DecodeBuckets(raw map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	targets := snapshot.bucketTargets()
	for bucket, payload := range raw {
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}
