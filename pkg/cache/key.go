// Package cache provides key derivation, similarity scoring, and the
// error taxonomy shared by cache engine implementations.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	promptFingerprintLen  = 16
	contextFingerprintLen = 8
)

// PromptFingerprint computes a short hex fingerprint of the raw prompt,
// independent of model and context.
func PromptFingerprint(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])[:promptFingerprintLen]
}

// ContextFingerprint canonicalizes a context map (sorted keys) and hashes
// it to a short hex fingerprint, so semantically equal contexts always
// fingerprint identically regardless of map iteration order.
func ContextFingerprint(context map[string]any) (string, error) {
	if len(context) == 0 {
		return "", nil
	}
	data, err := canonicalJSON(context)
	if err != nil {
		return "", fmt.Errorf("%w: canonicalize context: %v", ErrSerialization, err)
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:contextFingerprintLen], nil
}

// BuildKey derives the cache key for a (prompt, model, context) triple:
// "<model>_<promptFP>" with "_ctx_<contextFP>" appended when context is set.
func BuildKey(prompt, modelName string, context map[string]any) (string, error) {
	key := modelName + "_" + PromptFingerprint(prompt)
	ctxFP, err := ContextFingerprint(context)
	if err != nil {
		return "", err
	}
	if ctxFP != "" {
		key += "_ctx_" + ctxFP
	}
	return key, nil
}

// NormalizePrompt lowercases the prompt and collapses runs of whitespace.
// The normalized form is stored per entry so similarity lookups compare
// real prompt content.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// canonicalJSON marshals a map with deterministic key ordering,
// recursing into nested maps and slices.
func canonicalJSON(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		vb, err := canonicalValue(m[k])
		if err != nil {
			return nil, err
		}
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func canonicalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		return canonicalJSON(t)
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			eb, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			b.Write(eb)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(v)
	}
}
