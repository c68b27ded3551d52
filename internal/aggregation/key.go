package aggregation

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// KeySeparator joins the parts of an aggregation key.
	KeySeparator = "_"
	// bucketDigits is the zero-padded width of the bucket component so that
	// lexical key order equals chronological order.
	bucketDigits = 12
	// maxBucket is the largest bucket (seconds) that fits bucketDigits.
	maxBucket = 999_999_999_999
)

// Align returns the start (seconds) of the window containing tsSec.
func Align(tsSec int64, window int) int64 {
	w := int64(window)
	if tsSec <= 0 {
		return 0
	}
	return tsSec / w * w
}

func formatBucket(bucket int64) string {
	return fmt.Sprintf("%0*d", bucketDigits, bucket)
}

// FormatKey builds "<ruleActionId>_<bucket>_<key>".
func FormatKey(ruleActionID string, bucket int64, key string) string {
	return ruleActionID + KeySeparator + formatBucket(bucket) + KeySeparator + key
}

// SplitKey is the inverse of FormatKey for a known ruleActionID.
func SplitKey(ruleActionID, full string) (bucket int64, key string, err error) {
	prefix := ruleActionID + KeySeparator
	if !strings.HasPrefix(full, prefix) {
		return 0, "", fmt.Errorf("key %q does not belong to %q", full, ruleActionID)
	}
	rest := full[len(prefix):]
	if len(rest) < bucketDigits+len(KeySeparator) {
		return 0, "", fmt.Errorf("key %q: truncated bucket", full)
	}
	bucket, err = strconv.ParseInt(rest[:bucketDigits], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("key %q: bucket: %w", full, err)
	}
	return bucket, rest[bucketDigits+len(KeySeparator):], nil
}

// ParseRuleActionID extracts "<ruleId>_<actionId>" from a full key.
func ParseRuleActionID(full string) (string, error) {
	parts := strings.SplitN(full, KeySeparator, 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("key %q: not an aggregation key", full)
	}
	return parts[0] + KeySeparator + parts[1], nil
}
